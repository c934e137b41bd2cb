package cache

import "strconv"

// KeyActiveRules holds the active pricing rule definitions.
const KeyActiveRules = "pricing:rules:active"

// KeyProduct returns the cache key for a catalog product.
func KeyProduct(id int64) string {
	return "catalog:product:" + strconv.FormatInt(id, 10)
}

// KeyTerm returns the cache key for a catalog term.
func KeyTerm(id int64) string {
	return "catalog:term:" + strconv.FormatInt(id, 10)
}
