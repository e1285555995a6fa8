// Package audio provides audio processing utilities.
//
// This package serves as an umbrella for audio-related sub-packages:
//
//   - pcm: sample format arithmetic and int16/float32 conversion
//   - wav: minimal WAV container encoding and parsing
//   - opuspkt: packet-oriented Opus decoding and encoding
//   - resample: sample rate conversion for 16-bit mono streams
package audio
