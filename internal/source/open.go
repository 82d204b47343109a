package source

import (
	"fmt"

	"github.com/1sec-project/1sec-qa/internal/core"
	"github.com/aws/aws-sdk-go/service/cloudwatchlogs/cloudwatchlogsiface"
	"github.com/rs/zerolog"
)

// Source kinds accepted by Opener.Open.
const (
	KindFile       = "file"
	KindBus        = "bus"
	KindSyslog     = "syslog"
	KindCloudWatch = "cloudwatch"
)

// Target names a log to watch.
type Target struct {
	Kind      string
	Host      string
	Path      string
	LogGroup  string
	LogStream string
	FromStart bool
}

// TargetFor converts an inventory entry into a Target.
func TargetFor(host string, hc core.HostConfig) Target {
	return Target{
		Kind:      hc.Source,
		Host:      host,
		Path:      hc.Path,
		LogGroup:  hc.LogGroup,
		LogStream: hc.LogStream,
	}
}

// Opener opens sources of any kind against the shared transports it holds.
// Transports that are nil make the corresponding kind unavailable.
type Opener struct {
	Policy     core.TimeoutPolicy
	Logger     zerolog.Logger
	Bus        *core.LogBus
	BusBuffer  int
	Syslog     *SyslogListener
	CloudWatch cloudwatchlogsiface.CloudWatchLogsAPI
}

// Open positions a new source at a fresh read offset on t.
func (o *Opener) Open(t Target) (Source, error) {
	switch t.Kind {
	case KindFile:
		return OpenFile(t.Path, FileOptions{Host: t.Host, FromStart: t.FromStart}, o.Policy, o.Logger)
	case KindBus:
		if o.Bus == nil {
			return nil, fmt.Errorf("bus source for %s: no log bus configured", t.Host)
		}
		return OpenBus(o.Bus, t.Host, o.BusBuffer, o.Policy, o.Logger)
	case KindSyslog:
		if o.Syslog == nil {
			return nil, fmt.Errorf("syslog source for %s: no syslog listener configured", t.Host)
		}
		return o.Syslog.Subscribe(t.Host, o.Policy), nil
	case KindCloudWatch:
		if o.CloudWatch == nil {
			return nil, fmt.Errorf("cloudwatch source for %s: no CloudWatch client configured", t.Host)
		}
		return OpenCloudWatch(o.CloudWatch, t.LogGroup, t.LogStream, t.Host, o.Policy, o.Logger), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", t.Kind)
	}
}
