// Package services holds cross-cutting error classification and context
// plumbing shared by the pipeline stages and their external tool wrappers.
//
// Stage implementations wrap failures with services.Wrap so the pipeline
// runner can classify them (validation vs transient vs external tool) and
// surface a readable message on the job record without leaking marker
// prefixes to clients.
package services
