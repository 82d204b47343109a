package source

import (
	"context"
	"errors"
	"time"

	"github.com/1sec-project/1sec-qa/internal/core"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go/service/cloudwatchlogs/cloudwatchlogsiface"
	"github.com/rs/zerolog"
)

// maxPagesPerRead bounds one ReadNewLines call on a busy stream.
const maxPagesPerRead = 50

// NewCloudWatchClient builds a CloudWatch Logs client from the AWS section
// of the config. An empty endpoint uses the regional default.
func NewCloudWatchClient(cfg core.AWSConfig) (cloudwatchlogsiface.CloudWatchLogsAPI, error) {
	awsCfg := aws.Config{Region: aws.String(cfg.Region)}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}
	sess, err := session.NewSessionWithOptions(session.Options{
		Config:            awsCfg,
		Profile:           cfg.Profile,
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, err
	}
	return cloudwatchlogs.New(sess), nil
}

// CloudWatchSource follows one CloudWatch Logs stream using the forward
// token as its cursor. The first read starts at the time the source was
// opened.
type CloudWatchSource struct {
	client cloudwatchlogsiface.CloudWatchLogsAPI
	group  string
	stream string
	host   string
	policy core.TimeoutPolicy
	logger zerolog.Logger

	startMs int64
	token   *string
	closed  bool
}

// OpenCloudWatch positions a source at the current time on group/stream.
func OpenCloudWatch(client cloudwatchlogsiface.CloudWatchLogsAPI, group, stream, host string, policy core.TimeoutPolicy, logger zerolog.Logger) *CloudWatchSource {
	return &CloudWatchSource{
		client:  client,
		group:   group,
		stream:  stream,
		host:    host,
		policy:  policy,
		logger:  logger.With().Str("component", "cloudwatch_source").Str("log_group", group).Str("log_stream", stream).Logger(),
		startMs: time.Now().UnixMilli(),
	}
}

func (s *CloudWatchSource) Name() string { return "cloudwatch:" + s.group + "/" + s.stream }

func (s *CloudWatchSource) ReadNewLines(ctx context.Context) ([]core.LogLine, error) {
	if s.closed {
		return nil, ErrClosed
	}

	var lines []core.LogLine
	for page := 0; page < maxPagesPerRead; page++ {
		input := &cloudwatchlogs.GetLogEventsInput{
			LogGroupName:  aws.String(s.group),
			LogStreamName: aws.String(s.stream),
			StartFromHead: aws.Bool(true),
		}
		if s.token != nil {
			input.NextToken = s.token
		} else {
			input.StartTime = aws.Int64(s.startMs)
		}

		var out *cloudwatchlogs.GetLogEventsOutput
		err := Retry(ctx, s.Name(), s.policy, func() error {
			var err error
			out, err = s.client.GetLogEventsWithContext(ctx, input)
			if isRetryableAWS(err) {
				return Transient(err)
			}
			return err
		})
		if err != nil {
			return lines, err
		}

		for _, ev := range out.Events {
			line := core.NewLogLine(s.host, s.Name(), aws.StringValue(ev.Message))
			if ev.Timestamp != nil {
				line.Timestamp = time.UnixMilli(*ev.Timestamp).UTC()
			}
			lines = append(lines, line)
		}

		next := out.NextForwardToken
		sameToken := s.token != nil && next != nil && *next == *s.token
		if next != nil {
			s.token = next
		}
		// The API hands back the same forward token once the stream is drained.
		if len(out.Events) == 0 || sameToken || next == nil {
			break
		}
	}
	return lines, nil
}

func isRetryableAWS(err error) bool {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return false
	}
	switch aerr.Code() {
	case cloudwatchlogs.ErrCodeResourceNotFoundException,
		cloudwatchlogs.ErrCodeServiceUnavailableException,
		"ThrottlingException":
		return true
	}
	return false
}

func (s *CloudWatchSource) Close() error {
	s.closed = true
	return nil
}
