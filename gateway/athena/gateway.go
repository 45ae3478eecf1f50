// Package athena implements the remote service gateway over the AWS Athena
// API. Query submission, status, cancellation, and paginated results go
// through the service API; materialized output objects are read straight
// from object storage.
package athena

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	athenatypes "github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/aws/smithy-go"

	"github.com/quarrydb/quarry/gateway"
)

// Config selects the service region, credentials, and an optional
// object-storage endpoint override. Everything is explicit; nothing is read
// from process globals unless the credential fields are left empty, in
// which case the SDK's default provider chain applies.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	StorageEndpoint string
}

type serviceAPI interface {
	StartQueryExecution(ctx context.Context, in *athena.StartQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error)
	GetQueryExecution(ctx context.Context, in *athena.GetQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error)
	StopQueryExecution(ctx context.Context, in *athena.StopQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StopQueryExecutionOutput, error)
	GetQueryResults(ctx context.Context, in *athena.GetQueryResultsInput, optFns ...func(*athena.Options)) (*athena.GetQueryResultsOutput, error)
}

type objectClient interface {
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// Gateway is the production gateway. It satisfies gateway.Gateway.
type Gateway struct {
	service serviceAPI
	objects objectClient
}

// New builds the gateway from explicit configuration.
func New(ctx context.Context, cfg Config) (*Gateway, error) {
	if strings.TrimSpace(cfg.Region) == "" {
		return nil, fmt.Errorf("region is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	objects, err := newObjectClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Gateway{
		service: athena.NewFromConfig(awsCfg),
		objects: objects,
	}, nil
}

// NewWithClients wires caller-supplied service and object clients. Tests
// use this.
func NewWithClients(service serviceAPI, objects objectClient) *Gateway {
	return &Gateway{service: service, objects: objects}
}

func (g *Gateway) SubmitQuery(ctx context.Context, in gateway.SubmitInput) (string, error) {
	req := &athena.StartQueryExecutionInput{
		QueryString: aws.String(in.SQL),
	}
	if in.RequestToken != "" {
		req.ClientRequestToken = aws.String(in.RequestToken)
	}
	if in.Workgroup != "" {
		req.WorkGroup = aws.String(in.Workgroup)
	}
	if in.Catalog != "" || in.Database != "" {
		req.QueryExecutionContext = &athenatypes.QueryExecutionContext{}
		if in.Catalog != "" {
			req.QueryExecutionContext.Catalog = aws.String(in.Catalog)
		}
		if in.Database != "" {
			req.QueryExecutionContext.Database = aws.String(in.Database)
		}
	}
	if in.OutputLocation != "" {
		req.ResultConfiguration = &athenatypes.ResultConfiguration{
			OutputLocation: aws.String(in.OutputLocation),
		}
	}

	out, err := g.service.StartQueryExecution(ctx, req)
	if err != nil {
		return "", classify("submit query", err)
	}
	return aws.ToString(out.QueryExecutionId), nil
}

func (g *Gateway) GetStatus(ctx context.Context, queryID string) (gateway.Status, error) {
	out, err := g.service.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{
		QueryExecutionId: aws.String(queryID),
	})
	if err != nil {
		return gateway.Status{}, classify("get query execution", err)
	}

	qe := out.QueryExecution
	if qe == nil || qe.Status == nil {
		return gateway.Status{}, gateway.NewError("get query execution", gateway.KindInternal,
			fmt.Errorf("response missing execution status"))
	}

	status := gateway.Status{State: mapState(qe.Status.State)}
	if qe.ResultConfiguration != nil {
		status.OutputLocation = aws.ToString(qe.ResultConfiguration.OutputLocation)
	}
	if qe.Statistics != nil {
		status.ManifestLocation = aws.ToString(qe.Statistics.DataManifestLocation)
	}
	if athenaErr := qe.Status.AthenaError; athenaErr != nil {
		if athenaErr.ErrorType != nil {
			status.ErrorCode = strconv.Itoa(int(aws.ToInt32(athenaErr.ErrorType)))
		}
		status.ErrorMessage = aws.ToString(athenaErr.ErrorMessage)
	}
	if status.ErrorMessage == "" {
		status.ErrorMessage = aws.ToString(qe.Status.StateChangeReason)
	}
	return status, nil
}

func (g *Gateway) Cancel(ctx context.Context, queryID string) error {
	_, err := g.service.StopQueryExecution(ctx, &athena.StopQueryExecutionInput{
		QueryExecutionId: aws.String(queryID),
	})
	if err != nil {
		return classify("stop query execution", err)
	}
	return nil
}

func (g *Gateway) FetchResultPage(ctx context.Context, queryID, nextToken string, maxRows int) (gateway.Page, error) {
	req := &athena.GetQueryResultsInput{
		QueryExecutionId: aws.String(queryID),
	}
	if nextToken != "" {
		req.NextToken = aws.String(nextToken)
	}
	if maxRows > 0 {
		req.MaxResults = aws.Int32(int32(maxRows))
	}

	out, err := g.service.GetQueryResults(ctx, req)
	if err != nil {
		return gateway.Page{}, classify("get query results", err)
	}

	page := gateway.Page{NextToken: aws.ToString(out.NextToken)}
	if out.ResultSet == nil {
		return page, nil
	}
	if meta := out.ResultSet.ResultSetMetadata; meta != nil {
		page.Columns = mapColumns(meta.ColumnInfo)
	}
	page.Rows = make([][]gateway.Cell, 0, len(out.ResultSet.Rows))
	for _, row := range out.ResultSet.Rows {
		cells := make([]gateway.Cell, len(row.Data))
		for i, datum := range row.Data {
			if datum.VarCharValue == nil {
				cells[i] = gateway.NullCell()
			} else {
				cells[i] = gateway.TextCell(*datum.VarCharValue)
			}
		}
		page.Rows = append(page.Rows, cells)
	}
	return page, nil
}

func (g *Gateway) ResultMetadata(ctx context.Context, queryID string) ([]gateway.Column, error) {
	out, err := g.service.GetQueryResults(ctx, &athena.GetQueryResultsInput{
		QueryExecutionId: aws.String(queryID),
		MaxResults:       aws.Int32(1),
	})
	if err != nil {
		return nil, classify("get result metadata", err)
	}
	if out.ResultSet == nil || out.ResultSet.ResultSetMetadata == nil {
		return nil, gateway.NewError("get result metadata", gateway.KindInternal,
			fmt.Errorf("response missing result metadata"))
	}
	return mapColumns(out.ResultSet.ResultSetMetadata.ColumnInfo), nil
}

func (g *Gateway) ReadObject(ctx context.Context, uri string) (io.ReadCloser, error) {
	bucket, key, err := ParseObjectURI(uri)
	if err != nil {
		return nil, gateway.NewError("read object", gateway.KindInvalidRequest, err)
	}
	rc, err := g.objects.Get(ctx, bucket, key)
	if err != nil {
		return nil, classify("read object", err)
	}
	return rc, nil
}

// ParseObjectURI splits an s3://bucket/key URI.
func ParseObjectURI(uri string) (bucket, key string, err error) {
	trimmed, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("invalid object URI %q: expected s3:// scheme", uri)
	}
	bucket, key, ok = strings.Cut(trimmed, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid object URI %q: expected s3://bucket/key", uri)
	}
	return bucket, key, nil
}

func mapState(state athenatypes.QueryExecutionState) gateway.ExecutionState {
	switch state {
	case athenatypes.QueryExecutionStateQueued:
		return gateway.StateQueued
	case athenatypes.QueryExecutionStateRunning:
		return gateway.StateRunning
	case athenatypes.QueryExecutionStateSucceeded:
		return gateway.StateSucceeded
	case athenatypes.QueryExecutionStateFailed:
		return gateway.StateFailed
	case athenatypes.QueryExecutionStateCancelled:
		return gateway.StateCancelled
	default:
		return gateway.StateRunning
	}
}

func mapColumns(infos []athenatypes.ColumnInfo) []gateway.Column {
	columns := make([]gateway.Column, len(infos))
	for i, info := range infos {
		columns[i] = gateway.Column{
			Name:      aws.ToString(info.Name),
			Type:      aws.ToString(info.Type),
			Precision: info.Precision,
			Scale:     info.Scale,
			Nullable:  info.Nullable != athenatypes.ColumnNullableNotNull,
		}
	}
	return columns
}

// classify tags a service failure with a retryability kind. Throttling,
// timeouts, and 5xx-equivalent faults are transient; request and permission
// problems are permanent.
func classify(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return gateway.NewError(op, kindForCode(apiErr), err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return gateway.NewError(op, gateway.KindTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return gateway.NewError(op, gateway.KindTimeout, err)
	}
	// Connection-level plumbing failures are worth a retry.
	return gateway.NewError(op, gateway.KindUnavailable, err)
}

func kindForCode(apiErr smithy.APIError) gateway.ErrorKind {
	switch apiErr.ErrorCode() {
	case "ThrottlingException", "TooManyRequestsException", "RequestThrottled", "SlowDown":
		return gateway.KindThrottled
	case "RequestTimeout", "RequestTimeoutException":
		return gateway.KindTimeout
	case "ServiceUnavailable", "ServiceUnavailableException":
		return gateway.KindUnavailable
	case "InternalServerException", "InternalError", "InternalFailure":
		return gateway.KindInternal
	case "InvalidRequestException", "ValidationException":
		return gateway.KindInvalidRequest
	case "AccessDeniedException", "UnauthorizedException", "NotAuthorized":
		return gateway.KindPermissionDenied
	case "ResourceNotFoundException", "NoSuchKey", "NoSuchBucket", "NotFound":
		return gateway.KindNotFound
	}
	if apiErr.ErrorFault() == smithy.FaultServer {
		return gateway.KindInternal
	}
	return gateway.KindInvalidRequest
}
