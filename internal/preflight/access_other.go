//go:build !unix

package preflight

func checkAccess(string) error {
	return nil
}
