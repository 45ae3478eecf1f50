package athena

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	athenatypes "github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/aws/smithy-go"

	"github.com/quarrydb/quarry/gateway"
)

type fakeService struct {
	startOut *athena.StartQueryExecutionOutput
	startErr error
	startIn  *athena.StartQueryExecutionInput

	getOut *athena.GetQueryExecutionOutput
	getErr error

	stopCalls int

	resultsOut *athena.GetQueryResultsOutput
	resultsErr error
	resultsIn  *athena.GetQueryResultsInput
}

func (f *fakeService) StartQueryExecution(_ context.Context, in *athena.StartQueryExecutionInput, _ ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error) {
	f.startIn = in
	return f.startOut, f.startErr
}

func (f *fakeService) GetQueryExecution(context.Context, *athena.GetQueryExecutionInput, ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error) {
	return f.getOut, f.getErr
}

func (f *fakeService) StopQueryExecution(context.Context, *athena.StopQueryExecutionInput, ...func(*athena.Options)) (*athena.StopQueryExecutionOutput, error) {
	f.stopCalls++
	return &athena.StopQueryExecutionOutput{}, nil
}

func (f *fakeService) GetQueryResults(_ context.Context, in *athena.GetQueryResultsInput, _ ...func(*athena.Options)) (*athena.GetQueryResultsOutput, error) {
	f.resultsIn = in
	return f.resultsOut, f.resultsErr
}

type fakeObjects struct {
	bucket, key string
	data        []byte
	err         error
}

func (f *fakeObjects) Get(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	f.bucket, f.key = bucket, key
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(bytes.NewReader(f.data)), nil
}

func TestSubmitQueryBuildsRequest(t *testing.T) {
	svc := &fakeService{startOut: &athena.StartQueryExecutionOutput{
		QueryExecutionId: aws.String("q-1"),
	}}
	gw := NewWithClients(svc, &fakeObjects{})

	id, err := gw.SubmitQuery(context.Background(), gateway.SubmitInput{
		SQL:            "SELECT 1",
		Workgroup:      "primary",
		Catalog:        "awsdatacatalog",
		Database:       "analytics",
		OutputLocation: "s3://bucket/stage/",
		RequestToken:   "token-1",
	})
	if err != nil {
		t.Fatalf("SubmitQuery() error = %v", err)
	}
	if id != "q-1" {
		t.Fatalf("id = %q", id)
	}

	in := svc.startIn
	if aws.ToString(in.QueryString) != "SELECT 1" {
		t.Fatalf("query = %q", aws.ToString(in.QueryString))
	}
	if aws.ToString(in.ClientRequestToken) != "token-1" {
		t.Fatalf("request token = %q", aws.ToString(in.ClientRequestToken))
	}
	if aws.ToString(in.WorkGroup) != "primary" {
		t.Fatalf("workgroup = %q", aws.ToString(in.WorkGroup))
	}
	if in.QueryExecutionContext == nil || aws.ToString(in.QueryExecutionContext.Database) != "analytics" {
		t.Fatalf("execution context = %+v", in.QueryExecutionContext)
	}
	if in.ResultConfiguration == nil || aws.ToString(in.ResultConfiguration.OutputLocation) != "s3://bucket/stage/" {
		t.Fatalf("result configuration = %+v", in.ResultConfiguration)
	}
}

func TestSubmitQueryOmitsEmptyOptionals(t *testing.T) {
	svc := &fakeService{startOut: &athena.StartQueryExecutionOutput{
		QueryExecutionId: aws.String("q-1"),
	}}
	gw := NewWithClients(svc, &fakeObjects{})

	if _, err := gw.SubmitQuery(context.Background(), gateway.SubmitInput{SQL: "SELECT 1"}); err != nil {
		t.Fatalf("SubmitQuery() error = %v", err)
	}
	in := svc.startIn
	if in.WorkGroup != nil || in.QueryExecutionContext != nil || in.ResultConfiguration != nil {
		t.Fatalf("optional fields must be omitted: %+v", in)
	}
}

func TestGetStatusMapsExecution(t *testing.T) {
	svc := &fakeService{getOut: &athena.GetQueryExecutionOutput{
		QueryExecution: &athenatypes.QueryExecution{
			Status: &athenatypes.QueryExecutionStatus{
				State: athenatypes.QueryExecutionStateSucceeded,
			},
			ResultConfiguration: &athenatypes.ResultConfiguration{
				OutputLocation: aws.String("s3://bucket/out/q-1.csv"),
			},
			Statistics: &athenatypes.QueryExecutionStatistics{
				DataManifestLocation: aws.String("s3://bucket/out/q-1-manifest.csv"),
			},
		},
	}}
	gw := NewWithClients(svc, &fakeObjects{})

	status, err := gw.GetStatus(context.Background(), "q-1")
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if status.State != gateway.StateSucceeded {
		t.Fatalf("state = %s", status.State)
	}
	if status.OutputLocation != "s3://bucket/out/q-1.csv" {
		t.Fatalf("output location = %q", status.OutputLocation)
	}
	if status.ManifestLocation != "s3://bucket/out/q-1-manifest.csv" {
		t.Fatalf("manifest location = %q", status.ManifestLocation)
	}
}

func TestGetStatusCarriesFailureDetail(t *testing.T) {
	svc := &fakeService{getOut: &athena.GetQueryExecutionOutput{
		QueryExecution: &athenatypes.QueryExecution{
			Status: &athenatypes.QueryExecutionStatus{
				State: athenatypes.QueryExecutionStateFailed,
				AthenaError: &athenatypes.AthenaError{
					ErrorType:    aws.Int32(1001),
					ErrorMessage: aws.String("Column 'nope' cannot be resolved"),
				},
			},
		},
	}}
	gw := NewWithClients(svc, &fakeObjects{})

	status, err := gw.GetStatus(context.Background(), "q-1")
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if status.State != gateway.StateFailed {
		t.Fatalf("state = %s", status.State)
	}
	if status.ErrorCode != "1001" {
		t.Fatalf("error code = %q", status.ErrorCode)
	}
	if status.ErrorMessage != "Column 'nope' cannot be resolved" {
		t.Fatalf("error message = %q", status.ErrorMessage)
	}
}

func TestGetStatusFallsBackToStateChangeReason(t *testing.T) {
	svc := &fakeService{getOut: &athena.GetQueryExecutionOutput{
		QueryExecution: &athenatypes.QueryExecution{
			Status: &athenatypes.QueryExecutionStatus{
				State:             athenatypes.QueryExecutionStateCancelled,
				StateChangeReason: aws.String("Query cancelled by user"),
			},
		},
	}}
	gw := NewWithClients(svc, &fakeObjects{})

	status, err := gw.GetStatus(context.Background(), "q-1")
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if status.ErrorMessage != "Query cancelled by user" {
		t.Fatalf("error message = %q", status.ErrorMessage)
	}
}

func TestFetchResultPageMapsRowsAndNulls(t *testing.T) {
	svc := &fakeService{resultsOut: &athena.GetQueryResultsOutput{
		NextToken: aws.String("token-2"),
		ResultSet: &athenatypes.ResultSet{
			ResultSetMetadata: &athenatypes.ResultSetMetadata{
				ColumnInfo: []athenatypes.ColumnInfo{
					{Name: aws.String("id"), Type: aws.String("integer")},
					{Name: aws.String("name"), Type: aws.String("varchar"), Nullable: athenatypes.ColumnNullableNullable},
				},
			},
			Rows: []athenatypes.Row{
				{Data: []athenatypes.Datum{{VarCharValue: aws.String("1")}, {VarCharValue: nil}}},
				{Data: []athenatypes.Datum{{VarCharValue: aws.String("2")}, {VarCharValue: aws.String("")}}},
			},
		},
	}}
	gw := NewWithClients(svc, &fakeObjects{})

	page, err := gw.FetchResultPage(context.Background(), "q-1", "token-1", 500)
	if err != nil {
		t.Fatalf("FetchResultPage() error = %v", err)
	}
	if page.NextToken != "token-2" {
		t.Fatalf("next token = %q", page.NextToken)
	}
	if len(page.Columns) != 2 || page.Columns[0].Name != "id" {
		t.Fatalf("columns = %+v", page.Columns)
	}
	if !page.Rows[0][1].Null {
		t.Fatalf("missing datum must map to null: %+v", page.Rows[0])
	}
	if page.Rows[1][1].Null || page.Rows[1][1].Data != "" {
		t.Fatalf("empty datum must stay a string: %+v", page.Rows[1])
	}
	if aws.ToString(svc.resultsIn.NextToken) != "token-1" || aws.ToInt32(svc.resultsIn.MaxResults) != 500 {
		t.Fatalf("request = %+v", svc.resultsIn)
	}
}

func TestResultMetadataRequestsSingleRow(t *testing.T) {
	svc := &fakeService{resultsOut: &athena.GetQueryResultsOutput{
		ResultSet: &athenatypes.ResultSet{
			ResultSetMetadata: &athenatypes.ResultSetMetadata{
				ColumnInfo: []athenatypes.ColumnInfo{
					{Name: aws.String("total"), Type: aws.String("decimal"), Precision: 10, Scale: 2},
				},
			},
		},
	}}
	gw := NewWithClients(svc, &fakeObjects{})

	schema, err := gw.ResultMetadata(context.Background(), "q-1")
	if err != nil {
		t.Fatalf("ResultMetadata() error = %v", err)
	}
	if len(schema) != 1 || schema[0].Name != "total" || schema[0].Scale != 2 {
		t.Fatalf("schema = %+v", schema)
	}
	if aws.ToInt32(svc.resultsIn.MaxResults) != 1 {
		t.Fatalf("metadata probe must request one row: %+v", svc.resultsIn)
	}
}

func TestReadObjectRoutesThroughObjectClient(t *testing.T) {
	objects := &fakeObjects{data: []byte("payload")}
	gw := NewWithClients(&fakeService{}, objects)

	rc, err := gw.ReadObject(context.Background(), "s3://bucket/prefix/out.csv")
	if err != nil {
		t.Fatalf("ReadObject() error = %v", err)
	}
	defer rc.Close()
	if objects.bucket != "bucket" || objects.key != "prefix/out.csv" {
		t.Fatalf("bucket/key = %q/%q", objects.bucket, objects.key)
	}
	data, _ := io.ReadAll(rc)
	if string(data) != "payload" {
		t.Fatalf("data = %q", data)
	}
}

func TestParseObjectURI(t *testing.T) {
	bucket, key, err := ParseObjectURI("s3://bucket/a/b/c.parquet")
	if err != nil || bucket != "bucket" || key != "a/b/c.parquet" {
		t.Fatalf("parse = %q, %q, %v", bucket, key, err)
	}
	for _, bad := range []string{"http://bucket/key", "s3://bucket", "s3:///key", "s3://bucket/"} {
		if _, _, err := ParseObjectURI(bad); err == nil {
			t.Fatalf("ParseObjectURI(%q) accepted", bad)
		}
	}
}

type stubAPIError struct {
	code  string
	fault smithy.ErrorFault
}

func (e *stubAPIError) Error() string                 { return e.code }
func (e *stubAPIError) ErrorCode() string             { return e.code }
func (e *stubAPIError) ErrorMessage() string          { return e.code }
func (e *stubAPIError) ErrorFault() smithy.ErrorFault { return e.fault }

func TestClassifyServiceErrors(t *testing.T) {
	cases := []struct {
		code  string
		fault smithy.ErrorFault
		want  gateway.ErrorKind
	}{
		{"ThrottlingException", smithy.FaultClient, gateway.KindThrottled},
		{"TooManyRequestsException", smithy.FaultClient, gateway.KindThrottled},
		{"RequestTimeout", smithy.FaultClient, gateway.KindTimeout},
		{"ServiceUnavailableException", smithy.FaultServer, gateway.KindUnavailable},
		{"InternalServerException", smithy.FaultServer, gateway.KindInternal},
		{"InvalidRequestException", smithy.FaultClient, gateway.KindInvalidRequest},
		{"AccessDeniedException", smithy.FaultClient, gateway.KindPermissionDenied},
		{"ResourceNotFoundException", smithy.FaultClient, gateway.KindNotFound},
		{"SomethingNew", smithy.FaultServer, gateway.KindInternal},
		{"SomethingOdd", smithy.FaultClient, gateway.KindInvalidRequest},
	}
	for _, tc := range cases {
		err := classify("op", &stubAPIError{code: tc.code, fault: tc.fault})
		var gwErr *gateway.Error
		if !errors.As(err, &gwErr) {
			t.Fatalf("classify(%s) = %v, want *gateway.Error", tc.code, err)
		}
		if gwErr.Kind != tc.want {
			t.Fatalf("classify(%s) kind = %v, want %v", tc.code, gwErr.Kind, tc.want)
		}
	}
}

func TestClassifyContextDeadline(t *testing.T) {
	err := classify("op", context.DeadlineExceeded)
	var gwErr *gateway.Error
	if !errors.As(err, &gwErr) || gwErr.Kind != gateway.KindTimeout {
		t.Fatalf("classify(deadline) = %v", err)
	}
}

func TestClassifyUnknownErrorIsRetryable(t *testing.T) {
	err := classify("op", errors.New("connection reset by peer"))
	var gwErr *gateway.Error
	if !errors.As(err, &gwErr) || !gwErr.Kind.Retryable() {
		t.Fatalf("plumbing failure must be retryable: %v", err)
	}
}
