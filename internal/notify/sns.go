// Package notify publishes run failures to an SNS topic.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/picklr-io/sysconverge/internal/ir"
	"github.com/picklr-io/sysconverge/internal/logging"
)

// maxSubject is the SNS limit on subject length.
const maxSubject = 100

type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Notifier sends a summary of failed runs to a topic.
type Notifier struct {
	topicARN string
	client   snsAPI
}

// New builds a notifier from the declaration's notify block. A nil block or
// one without a topic yields a nil notifier, which ignores every report.
func New(ctx context.Context, cfg *ir.NotifyConfig) (*Notifier, error) {
	if cfg == nil || cfg.TopicARN == "" {
		return nil, nil
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	return &Notifier{topicARN: cfg.TopicARN, client: sns.NewFromConfig(awsCfg)}, nil
}

// RunFinished publishes a summary when the run has failed or blocked
// resources. Successful runs are not published.
func (n *Notifier) RunFinished(ctx context.Context, host string, report *ir.RunReport) error {
	if n == nil || report.Succeeded() {
		return nil
	}

	out, err := n.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.topicARN),
		Subject:  aws.String(Subject(host, report)),
		Message:  aws.String(Message(host, report)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"run_id": {DataType: aws.String("String"), StringValue: aws.String(report.RunID)},
			"host":   {DataType: aws.String("String"), StringValue: aws.String(hostOrUnknown(host))},
		},
	})
	if err != nil {
		return fmt.Errorf("publish run %s to %s: %w", report.RunID, n.topicARN, err)
	}
	logging.Info("run failure published", "run", report.RunID, "topic", n.topicARN, "message", aws.ToString(out.MessageId))
	return nil
}

// Subject returns the one-line notification subject.
func Subject(host string, report *ir.RunReport) string {
	s := fmt.Sprintf("sysconverge on %s: %d failed, %d blocked",
		hostOrUnknown(host), report.Summary.Failed, report.Summary.Blocked)
	if len(s) > maxSubject {
		s = s[:maxSubject-3] + "..."
	}
	return s
}

// Message lists every failed or blocked resource with its reasons.
func Message(host string, report *ir.RunReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s on %s finished at %s\n", report.RunID, hostOrUnknown(host), report.FinishedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "applied=%d skipped=%d failed=%d blocked=%d\n\n",
		report.Summary.Applied, report.Summary.Skipped, report.Summary.Failed, report.Summary.Blocked)

	for _, res := range report.Results {
		if res.Status != ir.StatusFailed && res.Status != ir.StatusBlocked {
			continue
		}
		fmt.Fprintf(&b, "%s %s\n", res.Status, res.ID)
		for _, reason := range res.Reason {
			fmt.Fprintf(&b, "    %s\n", reason)
		}
	}
	return b.String()
}

func hostOrUnknown(host string) string {
	if host == "" {
		return "unknown host"
	}
	return host
}
