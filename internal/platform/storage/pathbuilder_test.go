package storage

import "testing"

func TestProductPhotoKey(t *testing.T) {
	key, err := ProductPhotoKey("prod_1", 2)
	if err != nil {
		t.Fatalf("ProductPhotoKey: %v", err)
	}
	if key != "products/prod_1/img_2" {
		t.Fatalf("key = %s", key)
	}
}

func TestProductPhotoKeyRejectsBadInput(t *testing.T) {
	cases := map[string]struct {
		productID string
		index     int
	}{
		"blank id":     {productID: "  ", index: 0},
		"slash in id":  {productID: "prod/1", index: 0},
		"traversal":    {productID: "../etc", index: 0},
		"negative idx": {productID: "prod_1", index: -1},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ProductPhotoKey(tc.productID, tc.index); err == nil {
				t.Fatalf("ProductPhotoKey(%q, %d) should fail", tc.productID, tc.index)
			}
		})
	}
}
