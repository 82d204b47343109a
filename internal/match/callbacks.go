package match

import (
	"fmt"
	"regexp"
)

// Daemon prefixes used to scope callbacks to one component's log lines.
const (
	RemotedPrefix   = `.*wazuh-remoted.*`
	SyscheckPrefix  = `.*wazuh-syscheckd.*`
	AnalysisdPrefix = `.*wazuh-analysisd.*`
	ModulesdPrefix  = `.*wazuh-modulesd.*`
)

// ConfigurationError matches a daemon rejecting its configuration file
// with the given severity (ERROR or CRITICAL).
func ConfigurationError(severity, prefix, confPath string) Matcher[string] {
	pattern := fmt.Sprintf(`%s%s: \(\d+\): Configuration error at '%s'`,
		prefix, regexp.QuoteMeta(severity), regexp.QuoteMeta(confPath))
	return Group(`(`+pattern+`)`, 1)
}

// InvalidAllowedIP matches remoted refusing an allowed-ips value.
func InvalidAllowedIP(ip string) Matcher[string] {
	pattern := fmt.Sprintf(`%sERROR: \(\d+\): Invalid ip address: '%s'`, RemotedPrefix, regexp.QuoteMeta(ip))
	return Group(`(`+pattern+`)`, 1)
}

// ScanStarted matches the start of a FIM scan.
func ScanStarted() Matcher[string] {
	return Contains("File integrity monitoring scan started")
}

// ScanEnd matches the end of a FIM scan, including the initial baseline.
func ScanEnd() Matcher[string] {
	return Contains("File integrity monitoring scan ended")
}

// FIMEvent decodes "Sending FIM event:" payloads and keeps those whose
// data.type is one of types ("added", "modified", "deleted"). No types
// keeps every event.
func FIMEvent(types ...string) Matcher[map[string]any] {
	want := make(map[string]bool, len(types))
	for _, t := range types {
		want[t] = true
	}
	return Where(JSON("Sending FIM event:"), func(ev map[string]any) bool {
		if len(want) == 0 {
			return true
		}
		v, ok := Field(ev, "data.type")
		if !ok {
			return false
		}
		s, _ := v.(string)
		return want[s]
	})
}

// FIMEventPath is FIMEvent restricted to events about path.
func FIMEventPath(path string, types ...string) Matcher[map[string]any] {
	return Where(FIMEvent(types...), func(ev map[string]any) bool {
		v, _ := Field(ev, "data.path")
		return v == path
	})
}

// AWSEventsProcessed matches the AWS module reporting how many events it
// ingested from a bucket or log group and returns that count as text.
func AWSEventsProcessed() Matcher[string] {
	return Group(`(?:DEBUG|INFO): \+\+\+ (\d+) events collected and processed`, 1)
}
