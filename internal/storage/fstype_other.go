//go:build !linux && !darwin

package storage

func detectFilesystem(string) (string, error) {
	return "", errNoDetector
}
