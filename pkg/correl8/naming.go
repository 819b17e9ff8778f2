package correl8

import "strings"

// DefaultBaseName is the base name used when none is given.
const DefaultBaseName = "correl8-elastic"

// configSuffix is appended to the active index name to form the config index.
const configSuffix = "-config"

// IndexNames returns the active and config index names for a base name and
// document type. Both are lower-case.
func IndexNames(baseName, docType string) (active, config string) {
	active = activeName(baseName, docType)
	return active, configName(active)
}

func activeName(baseName, docType string) string {
	return strings.ToLower(baseName + "-" + docType)
}

func configName(active string) string {
	return active + configSuffix
}
