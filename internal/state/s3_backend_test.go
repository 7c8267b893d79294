package state

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picklr-io/picklr-aws/internal/ir"
)

type fakeS3 struct {
	objects map[string][]byte
	sse     s3types.ServerSideEncryption
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = data
	f.sse = in.ServerSideEncryption
	return &s3.PutObjectOutput{}, nil
}

// fakeLocks mimics the conditional writes of a DynamoDB lock table.
type fakeLocks struct {
	items map[string]string
}

func (f *fakeLocks) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	key := in.Item["LockID"].(*dbtypes.AttributeValueMemberS).Value
	if _, held := f.items[key]; held {
		return nil, &dbtypes.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	}
	f.items[key] = in.Item["Info"].(*dbtypes.AttributeValueMemberS).Value
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeLocks) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	key := in.Key["LockID"].(*dbtypes.AttributeValueMemberS).Value
	want := in.ExpressionAttributeValues[":id"].(*dbtypes.AttributeValueMemberS).Value
	if f.items[key] != want {
		return nil, &dbtypes.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	}
	delete(f.items, key)
	return &dynamodb.DeleteItemOutput{}, nil
}

func testS3Backend(t *testing.T, config map[string]string) *s3Backend {
	t.Helper()
	settings, err := parseS3Config(config)
	require.NoError(t, err)
	b := &s3Backend{s3Settings: settings, s3Client: &fakeS3{objects: map[string][]byte{}}}
	if settings.dynamoDBTable != "" {
		b.dbClient = &fakeLocks{items: map[string]string{}}
	}
	return b
}

func TestParseS3Config(t *testing.T) {
	s, err := parseS3Config(map[string]string{"bucket": "my-bucket"})
	require.NoError(t, err)
	assert.Equal(t, s3Settings{bucket: "my-bucket", key: "picklr-aws/state.json", region: "us-east-1"}, s)

	s, err = parseS3Config(map[string]string{
		"bucket":         "custom-bucket",
		"key":            "custom/path/state.json",
		"region":         "eu-west-1",
		"dynamodb_table": "picklr-locks",
		"encrypt":        "true",
		"profile":        "staging",
	})
	require.NoError(t, err)
	assert.Equal(t, s3Settings{
		bucket:        "custom-bucket",
		key:           "custom/path/state.json",
		region:        "eu-west-1",
		dynamoDBTable: "picklr-locks",
		encrypt:       true,
		profile:       "staging",
	}, s)

	_, err = parseS3Config(map[string]string{"bucket": "b", "encrypt": "maybe"})
	assert.ErrorContains(t, err, `"maybe" is not a boolean`)
}

func TestS3Backend_ReadWrite(t *testing.T) {
	b := testS3Backend(t, map[string]string{"bucket": "b", "encrypt": "true"})
	ctx := context.Background()

	s, err := b.Read(ctx)
	require.NoError(t, err)
	assert.Empty(t, s.Resources)

	s.Put(&ir.ResourceState{Type: "aws:Route53.HostedZone", Name: "main", ID: "Z1"})
	require.NoError(t, b.Write(ctx, s))
	assert.Equal(t, s3types.ServerSideEncryptionAes256, b.s3Client.(*fakeS3).sse)

	back, err := b.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, s, back)
}

func TestS3Backend_Lock(t *testing.T) {
	ctx := context.Background()
	a := testS3Backend(t, map[string]string{"bucket": "b", "dynamodb_table": "locks"})
	other := &s3Backend{s3Settings: a.s3Settings, s3Client: a.s3Client, dbClient: a.dbClient}

	require.NoError(t, a.Lock(ctx))
	err := other.Lock(ctx)
	assert.ErrorContains(t, err, `manually delete the lock item with LockID="picklr-aws/state.json"`)

	// other never held the lock, so its unlock leaves a's item alone.
	require.NoError(t, other.Unlock(ctx))
	assert.Len(t, a.dbClient.(*fakeLocks).items, 1)

	require.NoError(t, a.Unlock(ctx))
	assert.Empty(t, a.dbClient.(*fakeLocks).items)
	require.NoError(t, other.Lock(ctx))
}

func TestS3Backend_NoLockTable(t *testing.T) {
	b := testS3Backend(t, map[string]string{"bucket": "b"})
	require.NoError(t, b.Lock(context.Background()))
	require.NoError(t, b.Unlock(context.Background()))
}
