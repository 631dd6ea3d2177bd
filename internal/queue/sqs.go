package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/samvad-hq/samvad-feed-syndicator/internal/logger"
	"github.com/samvad-hq/samvad-feed-syndicator/pkg/awsclient"
)

const (
	sqsWaitSeconds  = 20
	sqsBatchSize    = 5
	sqsErrorBackoff = 2 * time.Second
)

// SQS rejects visibility timeouts above 12 hours.
const sqsMaxVisibility = 12 * time.Hour

// sqsAPI is the subset of the SQS client used by the queue.
type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQS is a queue backed by an Amazon SQS queue so that several worker
// processes can share the load. A message is deleted once its handler
// returns. Messages not yet started when ctx is cancelled, and tasks cut
// short by the cancellation, are left on the queue for redelivery.
type SQS struct {
	client   sqsAPI
	queueURL string
	workers  int
	timeout  time.Duration
	log      logger.Logger
	backoff  time.Duration
}

// NewSQS builds an SQS-backed queue from the AWS options.
func NewSQS(ctx context.Context, opts Options, log logger.Logger) (*SQS, error) {
	queueURL := strings.TrimSpace(opts.SQSQueueURL)
	if queueURL == "" {
		return nil, errors.New("sqs queue url is required")
	}
	awsCfg, err := awsclient.Load(ctx, opts.AWS)
	if err != nil {
		return nil, err
	}
	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if ep := awsclient.BaseEndpoint(opts.AWS); ep != nil {
			o.BaseEndpoint = ep
		}
	})
	return newSQSWithClient(client, queueURL, opts, log), nil
}

func newSQSWithClient(client sqsAPI, queueURL string, opts Options, log logger.Logger) *SQS {
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	timeout := opts.TaskTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &SQS{
		client:   client,
		queueURL: queueURL,
		workers:  workers,
		timeout:  timeout,
		log:      logger.Ensure(log),
		backoff:  sqsErrorBackoff,
	}
}

// Enqueue sends the task as a JSON message.
func (q *SQS) Enqueue(ctx context.Context, name string, args ...string) (Task, error) {
	task := newTask(name, args)
	body, err := json.Marshal(task)
	if err != nil {
		return Task{}, fmt.Errorf("marshal task: %w", err)
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"task": {DataType: aws.String("String"), StringValue: aws.String(name)},
		},
	})
	if err != nil {
		return Task{}, fmt.Errorf("send task to sqs: %w", err)
	}
	return task, nil
}

// Run long-polls the queue with the configured number of workers until ctx is cancelled.
func (q *SQS) Run(ctx context.Context, mux *Mux) error {
	var wg sync.WaitGroup
	for i := 0; i < q.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			q.worker(ctx, mux, id)
		}(i)
	}
	wg.Wait()
	return nil
}

func (q *SQS) worker(ctx context.Context, mux *Mux, id int) {
	for ctx.Err() == nil {
		if _, err := q.poll(ctx, mux, id); err != nil {
			if ctx.Err() != nil {
				return
			}
			q.log.WarnObj("sqs receive failed", "queue_sqs", map[string]any{
				"worker_id": id,
				"error":     err.Error(),
			})
			select {
			case <-ctx.Done():
				return
			case <-time.After(q.backoff):
			}
		}
	}
}

// poll receives one batch and handles every message in it.
func (q *SQS) poll(ctx context.Context, mux *Mux, id int) (int, error) {
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: sqsBatchSize,
		WaitTimeSeconds:     sqsWaitSeconds,
		VisibilityTimeout:   q.visibilityTimeout(),
	})
	if err != nil {
		return 0, fmt.Errorf("receive from sqs: %w", err)
	}

	handled := 0
	for i, msg := range out.Messages {
		if ctx.Err() != nil {
			// Unstarted messages reappear once their visibility timeout lapses.
			q.log.InfoObj("leaving messages for redelivery", "queue_sqs", map[string]any{
				"worker_id": id,
				"remaining": len(out.Messages) - i,
			})
			break
		}
		var task Task
		if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &task); err != nil || task.Name == "" {
			q.log.ErrorObj("dropping malformed task message", "queue_sqs", map[string]any{
				"message_id": aws.ToString(msg.MessageId),
				"body":       aws.ToString(msg.Body),
			})
		} else {
			err := execute(ctx, mux, task, q.timeout, q.log, id)
			handled++
			if err != nil && ctx.Err() != nil {
				continue
			}
		}
		if err := q.delete(ctx, msg); err != nil {
			q.log.WarnObj("sqs delete failed", "queue_sqs", map[string]any{
				"message_id": aws.ToString(msg.MessageId),
				"error":      err.Error(),
			})
		}
	}
	return handled, nil
}

// visibilityTimeout covers a whole batch run back to back, plus slack for the deletes.
func (q *SQS) visibilityTimeout() int32 {
	d := time.Duration(sqsBatchSize)*q.timeout + 30*time.Second
	if d > sqsMaxVisibility {
		d = sqsMaxVisibility
	}
	return int32(d / time.Second)
}

func (q *SQS) delete(ctx context.Context, msg sqstypes.Message) error {
	// Detached from ctx: finished work is acknowledged even during shutdown.
	delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	_, err := q.client.DeleteMessage(delCtx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	return err
}

// Close is a no-op; the SDK client holds no resources.
func (q *SQS) Close() error { return nil }
