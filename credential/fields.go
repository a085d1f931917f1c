package credential

// SetFields stores a named set of credential fields for one connection id.
// Empty-string values are treated as "no credential provided" and skipped.
func SetFields(store Store, connectionID string, fields map[string]string) error {
	for field, value := range fields {
		if value == "" {
			continue
		}
		if err := store.Set(ConnectionKey(connectionID, field), value); err != nil {
			return err
		}
	}
	return nil
}

// GetFields retrieves the named credential fields for one connection id.
// Absent fields are omitted from the result.
func GetFields(store Store, connectionID string, fields []string) map[string]string {
	out := make(map[string]string, len(fields))
	for _, field := range fields {
		if value, ok := store.Get(ConnectionKey(connectionID, field)); ok {
			out[field] = value
		}
	}
	return out
}

// HasFields reports, per field, whether a credential exists for the
// connection id
func HasFields(store Store, connectionID string, fields []string) map[string]bool {
	out := make(map[string]bool, len(fields))
	for _, field := range fields {
		out[field] = store.Has(ConnectionKey(connectionID, field))
	}
	return out
}

// DeleteFields removes the named credential fields for one connection id
func DeleteFields(store Store, connectionID string, fields []string) {
	for _, field := range fields {
		store.Delete(ConnectionKey(connectionID, field))
	}
}
