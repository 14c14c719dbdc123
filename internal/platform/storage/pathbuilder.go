package storage

import (
	"fmt"
	"strings"
)

// ProductPhotoKey composes the object key under which a product photo is
// stored. Photos are numbered within the product's folder, so concurrent
// uploads for different products never collide.
func ProductPhotoKey(productID string, index int) (string, error) {
	id, err := pathSegment("productID", productID)
	if err != nil {
		return "", err
	}
	if index < 0 {
		return "", fmt.Errorf("storage: photo index must not be negative")
	}
	return fmt.Sprintf("products/%s/img_%d", id, index), nil
}

// pathSegment rejects values that could escape the intended object folder.
func pathSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return "", fmt.Errorf("storage: %s is required", name)
	case strings.ContainsAny(value, "/\\"):
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	case strings.Contains(value, ".."):
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
