package device

import "strings"

const maxSlugLength = 50

// Slugify converts a display name to a path segment: lower case, every run
// of characters outside [a-z0-9] collapsed to a single underscore.
//
//	Slugify("Front Door")      // "front_door"
//	Slugify("  Büro / Keller") // "b_ro_keller"
func Slugify(name string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}

	slug := b.String()
	if len(slug) > maxSlugLength {
		slug = strings.TrimRight(slug[:maxSlugLength], "_")
	}
	return slug
}
