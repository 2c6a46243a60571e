package pipeline

import "strings"

// ResolveSubject maps an HTTP method and path onto a bus subject:
// "DELETE", "/customers/41" becomes "delete.customers.41".
func ResolveSubject(method, path string) string {
	subject := strings.TrimRight(strings.ReplaceAll(path, "/", "."), ".")
	return strings.ToLower(method + subject)
}
