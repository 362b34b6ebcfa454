package utils

// Filter applies a filter function to each element in a slice
// and returns a new slice containing only the elements for which the filter function returns true.
func Filter[T any](slice []T, filterFunc func(T) bool) []T {
	var result []T
	for _, item := range slice {
		if filterFunc(item) {
			result = append(result, item)
		}
	}
	return result
}

// Map applies fn to each element in a slice and returns the results in order
func Map[T, R any](slice []T, fn func(T) R) []R {
	result := make([]R, 0, len(slice))
	for _, item := range slice {
		result = append(result, fn(item))
	}
	return result
}
