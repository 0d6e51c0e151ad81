// Package media implements the container-level audio, MIDI, and MusicXML
// plumbing shared by the pipeline stages: format sniffing, duration probing,
// WAV decode and encode, standard MIDI file read and write, and a partwise
// MusicXML writer.
package media
