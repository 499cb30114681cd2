// Package opencv backs marker decoding, marker rendering and camera capture with OpenCV through
// gocv. It is only compiled with the opencv build tag; without it the tools fall back to reading
// scans and report charuco.ErrNoMarkerDetector for live detection.
package opencv
