// ABOUTME: Package doc for audio.
// ABOUTME: Explains the payload-plus-sidecar layout and the expiry sweeper.
//
// Package audio manages the lifecycle of generated speech: storing payloads,
// serving them back by name, and reaping them once they expire.
//
// Each asset is two blobs: the payload ({uuid}.{format}) and a JSON sidecar
// ({uuid}.json) recording when it was created and how. The sweeper scans
// sidecars only, so a payload without one is invisible to expiry; Store
// removes the payload again if the sidecar write fails to keep the pair
// atomic in practice.
//
// Names are minted from random UUIDs and validated on the way back in, so
// the serving endpoint never touches a path a client made up.
package audio
