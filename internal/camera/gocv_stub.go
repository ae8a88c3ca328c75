//go:build !gocv

package camera

import "errors"

// NewGocvDevice reports that this binary was built without OpenCV. Rebuild
// with -tags gocv to capture from local video devices.
func NewGocvDevice(rearIndex, fallbackIndex int) (Device, error) {
	return nil, errors.New("camera: built without gocv support (rebuild with -tags gocv)")
}
