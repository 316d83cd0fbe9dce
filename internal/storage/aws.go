package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/ignite/campaign-pulse/internal/config"
	"github.com/ignite/campaign-pulse/internal/grouping"
)

const (
	pkSnapshot   = "SNAPSHOT"
	pkAssignment = "ASSIGNMENT"
)

type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type dynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// AWSStorage keeps snapshot payloads in S3 with an index in DynamoDB.
// Assignments live in the same table under their own partition.
type AWSStorage struct {
	dynamoDB  dynamoAPI
	s3Client  s3API
	tableName string
	bucket    string
	prefix    string
}

// DynamoDBItem represents an item stored in DynamoDB
type DynamoDBItem struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	Data      string `dynamodbav:"Data"`
	Timestamp string `dynamodbav:"Timestamp"`
}

// LoadAWSConfig loads the shared AWS config for region. Static keys in
// cfg take precedence over the profile.
func LoadAWSConfig(ctx context.Context, cfg config.StorageConfig, region string) (aws.Config, error) {
	if region == "" {
		region = cfg.AWSRegion
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	switch {
	case cfg.AccessKey != "" && cfg.SecretKey != "":
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	case cfg.GetAWSProfile() != "":
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.GetAWSProfile()))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	return awsCfg, nil
}

// NewAWSStorage creates a new AWS storage instance
func NewAWSStorage(ctx context.Context, cfg config.StorageConfig) (*AWSStorage, error) {
	awsCfg, err := LoadAWSConfig(ctx, cfg, cfg.AWSRegion)
	if err != nil {
		return nil, err
	}
	return newAWSStorage(dynamodb.NewFromConfig(awsCfg), s3.NewFromConfig(awsCfg), cfg.DynamoDBTable, cfg.S3Bucket, cfg.S3Prefix), nil
}

func newAWSStorage(db dynamoAPI, s3c s3API, tableName, bucket, prefix string) *AWSStorage {
	return &AWSStorage{
		dynamoDB:  db,
		s3Client:  s3c,
		tableName: tableName,
		bucket:    bucket,
		prefix:    strings.Trim(prefix, "/"),
	}
}

func (s *AWSStorage) objectKey(id string) string {
	return path.Join(s.prefix, "snapshots", id+".json")
}

func snapshotSK(m SnapshotMeta) string {
	return m.TakenAt.UTC().Format(time.RFC3339Nano) + "#" + m.ID
}

// SaveSnapshot uploads the payload and then writes its index entry.
func (s *AWSStorage) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(snap.ID)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("putting object to S3: %w", err)
	}

	meta := snap.Meta()
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshaling snapshot meta: %w", err)
	}
	item := DynamoDBItem{
		PK:        pkSnapshot,
		SK:        snapshotSK(meta),
		Data:      string(metaJSON),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshaling item: %w", err)
	}
	_, err = s.dynamoDB.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("putting item to DynamoDB: %w", err)
	}
	return nil
}

// GetSnapshot reads a snapshot payload from S3.
func (s *AWSStorage) GetSnapshot(ctx context.Context, id string) (*Snapshot, error) {
	result, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(id)),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting object from S3: %w", err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("reading S3 object body: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshaling S3 data: %w", err)
	}
	return &snap, nil
}

// queryPartition walks every page of a partition. visit returning false
// stops the walk.
func (s *AWSStorage) queryPartition(ctx context.Context, pk string, newestFirst bool, visit func(DynamoDBItem) bool) error {
	var startKey map[string]types.AttributeValue
	for {
		result, err := s.dynamoDB.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.tableName),
			KeyConditionExpression: aws.String("PK = :pk"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: pk},
			},
			ScanIndexForward:  aws.Bool(!newestFirst),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return fmt.Errorf("querying DynamoDB: %w", err)
		}
		for _, raw := range result.Items {
			var item DynamoDBItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				continue
			}
			if !visit(item) {
				return nil
			}
		}
		if len(result.LastEvaluatedKey) == 0 {
			return nil
		}
		startKey = result.LastEvaluatedKey
	}
}

// ListSnapshots lists snapshots newest first.
func (s *AWSStorage) ListSnapshots(ctx context.Context, limit int) ([]SnapshotMeta, error) {
	var out []SnapshotMeta
	err := s.queryPartition(ctx, pkSnapshot, true, func(item DynamoDBItem) bool {
		var m SnapshotMeta
		if err := json.Unmarshal([]byte(item.Data), &m); err != nil {
			return true
		}
		out = append(out, m)
		return limit <= 0 || len(out) < limit
	})
	return out, err
}

// LatestSnapshot returns the newest snapshot covering [from, to].
func (s *AWSStorage) LatestSnapshot(ctx context.Context, from, to time.Time) (*Snapshot, error) {
	var found string
	err := s.queryPartition(ctx, pkSnapshot, true, func(item DynamoDBItem) bool {
		var m SnapshotMeta
		if err := json.Unmarshal([]byte(item.Data), &m); err != nil {
			return true
		}
		if m.Covers(from, to) {
			found = m.ID
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if found == "" {
		return nil, ErrNotFound
	}
	return s.GetSnapshot(ctx, found)
}

// ListAssignments returns every saved assignment ordered by campaign id.
func (s *AWSStorage) ListAssignments(ctx context.Context) ([]grouping.Assignment, error) {
	var out []grouping.Assignment
	err := s.queryPartition(ctx, pkAssignment, false, func(item DynamoDBItem) bool {
		var a grouping.Assignment
		if err := json.Unmarshal([]byte(item.Data), &a); err == nil {
			out = append(out, a)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	sortAssignments(out)
	return out, nil
}

// SaveAssignments upserts one item per campaign.
func (s *AWSStorage) SaveAssignments(ctx context.Context, assignments []grouping.Assignment) error {
	if err := validateAssignments(assignments); err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, a := range assignments {
		if a.UpdatedAt.IsZero() {
			a.UpdatedAt = now
		}
		data, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("marshaling assignment: %w", err)
		}
		av, err := attributevalue.MarshalMap(DynamoDBItem{
			PK:        pkAssignment,
			SK:        a.CampaignID,
			Data:      string(data),
			Timestamp: a.UpdatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return fmt.Errorf("marshaling item: %w", err)
		}
		if _, err := s.dynamoDB.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(s.tableName),
			Item:      av,
		}); err != nil {
			return fmt.Errorf("putting item to DynamoDB: %w", err)
		}
	}
	return nil
}

// DeleteAssignment removes one assignment. Missing ids give ErrNotFound.
func (s *AWSStorage) DeleteAssignment(ctx context.Context, campaignID string) error {
	_, err := s.dynamoDB.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: pkAssignment},
			"SK": &types.AttributeValueMemberS{Value: campaignID},
		},
		ConditionExpression: aws.String("attribute_exists(SK)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrNotFound
		}
		return fmt.Errorf("deleting item from DynamoDB: %w", err)
	}
	return nil
}
