package statemanager

import (
	"fmt"
	"os"
)

// readFileOrNil returns nil, nil when path does not exist.
func readFileOrNil(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("statemanager: read %s: %w", path, err)
	}
	return data, nil
}
