// Package mogen provides a websocket client for the text-to-motion
// generation backend.
//
// It holds one persistent connection, established lazily on the first
// Generate call, performs the JSON-request/NPZ-response round trip, and maps
// backend failures onto a small error taxonomy. The client never retries;
// retry is the caller's decision.
package mogen
