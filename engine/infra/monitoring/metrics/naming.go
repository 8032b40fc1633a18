package metrics

import "strings"

const namespace = "pagewise"

// MetricName prefixes name with the service namespace unless already present.
func MetricName(name string) string {
	if strings.HasPrefix(name, namespace+"_") {
		return name
	}
	return namespace + "_" + name
}

// MetricNameWithSubsystem builds namespace_subsystem_name, trimming stray
// underscores from the subsystem.
func MetricNameWithSubsystem(subsystem, name string) string {
	if strings.HasPrefix(name, namespace+"_") {
		return name
	}
	subsystem = strings.Trim(subsystem, "_")
	if subsystem == "" {
		return MetricName(name)
	}
	if name == "" {
		return namespace + "_" + subsystem
	}
	return namespace + "_" + subsystem + "_" + name
}
