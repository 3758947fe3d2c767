package main

import "fmt"

// formatPermanence renders the reservation state of a site.
func formatPermanence(reserved bool, expiryHours *int) string {
	switch {
	case reserved && expiryHours == nil:
		return "permanent"
	case expiryHours != nil:
		return fmt.Sprintf("expires %dh", *expiryHours)
	default:
		return "temporary"
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
