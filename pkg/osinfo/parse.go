package osinfo

import "strings"

// ParseOSRelease reads the KEY=VALUE format of /etc/os-release.
func ParseOSRelease(out string) Distro {
	fields := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		fields[key] = strings.Trim(value, `"'`)
	}
	return Distro{
		Name:       fields["NAME"],
		Version:    fields["VERSION_ID"],
		ID:         fields["ID"],
		IDLike:     fields["ID_LIKE"],
		PrettyName: fields["PRETTY_NAME"],
	}
}

// ParseLSBRelease reads the "Key:\tValue" format of lsb_release -a, the
// fallback for hosts without /etc/os-release.
func ParseLSBRelease(out string) Distro {
	fields := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		fields[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return Distro{
		Name:       fields["Distributor ID"],
		Version:    fields["Release"],
		ID:         strings.ToLower(fields["Distributor ID"]),
		PrettyName: fields["Description"],
	}
}

// ParseIPv4Addrs extracts the address/prefix tokens from the one-line output
// of `ip -o -4 addr show up scope global`.
func ParseIPv4Addrs(out string) []string {
	var addrs []string
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		for i, f := range fields {
			if f == "inet" && i+1 < len(fields) {
				addrs = append(addrs, fields[i+1])
				break
			}
		}
	}
	return addrs
}
