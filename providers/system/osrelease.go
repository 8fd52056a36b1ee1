package system

import (
	"bufio"
	"bytes"
	"fmt"
	"strings"
)

// Family is the package manager family of a host.
type Family string

const (
	FamilyDebian Family = "debian"
	FamilyRedHat Family = "redhat"
)

// ParseOSRelease returns the package family described by an os-release(5)
// file, looking at ID first and ID_LIKE second.
func ParseOSRelease(data []byte) (Family, error) {
	fields := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok || strings.HasPrefix(key, "#") {
			continue
		}
		fields[key] = strings.Trim(value, `"'`)
	}

	candidates := append([]string{fields["ID"]}, strings.Fields(fields["ID_LIKE"])...)
	for _, id := range candidates {
		switch id {
		case "debian", "ubuntu":
			return FamilyDebian, nil
		case "rhel", "fedora", "centos", "rocky", "almalinux", "amzn":
			return FamilyRedHat, nil
		}
	}
	return "", fmt.Errorf("unsupported distribution %q", fields["ID"])
}
