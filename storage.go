package snsgw

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/gofrs/flock"
	"github.com/shogo82148/go-retry"
)

// StorageOption contains configuration for the webhook delivery log.
//
// Supported storage types:
//   - "dynamodb": Stores deliveries in a DynamoDB table (recommended for production)
//   - "file": Stores deliveries in a local gob file (suitable for development)
type StorageOption struct {
	Type       string `help:"storage type" default:"file" enum:"dynamodb,file" env:"SNSGW_STORAGE_TYPE"`
	TableName  string `help:"dynamodb table name" default:"snsgw" env:"SNSGW_DDB_TABLE_NAME"`
	AutoCreate bool   `help:"auto create dynamodb table" default:"false" env:"SNSGW_DDB_AUTO_CREATE" negatable:""`
	DataFile   string `help:"file storage data file" default:"snsgw.dat" env:"SNSGW_FILE_STORAGE_DATA_FILE"`
	LockFile   string `help:"file storage lock file" default:"snsgw.lock" env:"SNSGW_FILE_STORAGE_LOCK_FILE"`
}

// DeliveryItem is one recorded webhook delivery. Payload holds the raw JSON
// body as received, before any interpretation beyond classification.
type DeliveryItem struct {
	DeliveryID string
	Kind       string
	MessageID  string
	TopicARN   string
	Subject    string
	Payload    string
	ReceivedAt time.Time
}

// Storage is the delivery log interface.
type Storage interface {
	SaveDelivery(context.Context, *DeliveryItem) error
	FindAllDeliveries(context.Context) (<-chan []*DeliveryItem, error)
	FindOneByDeliveryID(context.Context, string) (*DeliveryItem, error)
	DeleteDelivery(context.Context, *DeliveryItem) error
}

type DeliveryNotFound struct {
	DeliveryID string
}

func (err *DeliveryNotFound) Error() string {
	return fmt.Sprintf("delivery_id:%s not found", err.DeliveryID)
}

type DeliveryAlreadyExists struct {
	DeliveryID string
}

func (err *DeliveryAlreadyExists) Error() string {
	return fmt.Sprintf("delivery_id:%s already exists", err.DeliveryID)
}

// NewStorage creates a Storage implementation based on the configuration
// type. Returns [DynamoDBStorage] for "dynamodb" or [FileStorage] for "file".
func NewStorage(ctx context.Context, cfg StorageOption) (Storage, error) {
	switch cfg.Type {
	case "dynamodb":
		return NewDynamoDBStorage(ctx, cfg)
	case "file":
		return NewFileStorage(ctx, cfg)
	}
	return nil, errors.New("unknown storage type")
}

// DynamoDBClient is the interface for DynamoDB operations used by the
// delivery log. This is satisfied by *dynamodb.Client.
type DynamoDBClient interface {
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

type DynamoDBStorage struct {
	client    DynamoDBClient
	tableName string
}

func NewDynamoDBStorage(ctx context.Context, cfg StorageOption) (*DynamoDBStorage, error) {
	awsCfg, err := loadAWSConfig()
	if err != nil {
		return nil, err
	}
	s := &DynamoDBStorage{
		client:    dynamodb.NewFromConfig(awsCfg),
		tableName: cfg.TableName,
	}
	exists, err := s.tableExists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists && cfg.AutoCreate {
		if err := s.createTable(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *DynamoDBStorage) tableExists(ctx context.Context) (bool, error) {
	slog.DebugContext(ctx, "describe dynamodb table", "table_name", s.tableName)
	table, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.tableName),
	})
	if err != nil {
		var ae smithy.APIError
		if errors.As(err, &ae) {
			if ae.ErrorCode() == "ResourceNotFoundException" {
				return false, nil
			}
		}
		return false, err
	}
	if table.Table.TableStatus == types.TableStatusActive || table.Table.TableStatus == types.TableStatusUpdating {
		return true, nil
	}
	return false, nil
}

func (s *DynamoDBStorage) waitTableActive(ctx context.Context) error {
	policy := retry.Policy{
		MinDelay: 200 * time.Millisecond,
		MaxDelay: 2 * time.Second,
		MaxCount: 20,
		Jitter:   100 * time.Millisecond,
	}
	retrier := policy.Start(ctx)
	var err error
	var exists bool
	for retrier.Continue() {
		exists, err = s.tableExists(ctx)
		if err == nil && exists {
			return nil
		}
	}
	if err == nil {
		return fmt.Errorf("table not active")
	}
	return fmt.Errorf("table not active: %w", err)
}

func (s *DynamoDBStorage) createTable(ctx context.Context) error {
	slog.InfoContext(ctx, "create dynamodb table", "table_name", s.tableName)
	_, err := s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(s.tableName),
		AttributeDefinitions: []types.AttributeDefinition{
			{
				AttributeName: aws.String("DeliveryID"),
				AttributeType: types.ScalarAttributeTypeS,
			},
		},
		KeySchema: []types.KeySchemaElement{
			{
				AttributeName: aws.String("DeliveryID"),
				KeyType:       types.KeyTypeHash,
			},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		var ae smithy.APIError
		if errors.As(err, &ae) {
			if ae.ErrorCode() == "ResourceInUseException" {
				return s.waitTableActive(ctx)
			}
		}
		return err
	}
	return s.waitTableActive(ctx)
}

// GetAttributeValueAs narrows a DynamoDB attribute value to a concrete
// member type.
func GetAttributeValueAs[T types.AttributeValue](key string, values map[string]types.AttributeValue) (T, bool) {
	var empty T
	value, ok := values[key]
	if !ok {
		return empty, false
	}
	if v, ok := value.(T); ok {
		return v, true
	}
	return empty, false
}

func NewDeliveryItemWithDynamoDBAttributeValues(values map[string]types.AttributeValue) *DeliveryItem {
	item := &DeliveryItem{}
	if v, ok := GetAttributeValueAs[*types.AttributeValueMemberS]("DeliveryID", values); ok {
		item.DeliveryID = v.Value
	}
	if v, ok := GetAttributeValueAs[*types.AttributeValueMemberS]("Kind", values); ok {
		item.Kind = v.Value
	}
	if v, ok := GetAttributeValueAs[*types.AttributeValueMemberS]("MessageID", values); ok {
		item.MessageID = v.Value
	}
	if v, ok := GetAttributeValueAs[*types.AttributeValueMemberS]("TopicARN", values); ok {
		item.TopicARN = v.Value
	}
	if v, ok := GetAttributeValueAs[*types.AttributeValueMemberS]("Subject", values); ok {
		item.Subject = v.Value
	}
	if v, ok := GetAttributeValueAs[*types.AttributeValueMemberS]("Payload", values); ok {
		item.Payload = v.Value
	}
	if v, ok := GetAttributeValueAs[*types.AttributeValueMemberN]("ReceivedAt", values); ok {
		if receivedAt, err := strconv.ParseInt(v.Value, 10, 64); err == nil {
			item.ReceivedAt = time.UnixMilli(receivedAt)
		}
	}
	return item
}

func (item *DeliveryItem) ToDynamoDBAttributeValues() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"DeliveryID": &types.AttributeValueMemberS{Value: item.DeliveryID},
		"Kind":       &types.AttributeValueMemberS{Value: item.Kind},
		"MessageID":  &types.AttributeValueMemberS{Value: item.MessageID},
		"TopicARN":   &types.AttributeValueMemberS{Value: item.TopicARN},
		"Subject":    &types.AttributeValueMemberS{Value: item.Subject},
		"Payload":    &types.AttributeValueMemberS{Value: item.Payload},
		"ReceivedAt": &types.AttributeValueMemberN{
			Value: strconv.FormatInt(item.ReceivedAt.UnixMilli(), 10),
		},
	}
}

func (s *DynamoDBStorage) SaveDelivery(ctx context.Context, item *DeliveryItem) error {
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item.ToDynamoDBAttributeValues(),
		ConditionExpression: aws.String("attribute_not_exists(DeliveryID)"),
	})
	if err != nil {
		var ae smithy.APIError
		if errors.As(err, &ae) {
			if ae.ErrorCode() == "ConditionalCheckFailedException" {
				return &DeliveryAlreadyExists{DeliveryID: item.DeliveryID}
			}
		}
		return err
	}
	return nil
}

func (s *DynamoDBStorage) FindAllDeliveries(ctx context.Context) (<-chan []*DeliveryItem, error) {
	output, err := s.client.Scan(ctx, &dynamodb.ScanInput{
		TableName:      aws.String(s.tableName),
		Select:         types.SelectAllAttributes,
		ConsistentRead: aws.Bool(false),
	})
	if err != nil {
		return nil, err
	}
	ch := make(chan []*DeliveryItem, 10)
	ch <- Map(output.Items, NewDeliveryItemWithDynamoDBAttributeValues)
	if output.LastEvaluatedKey == nil {
		close(ch)
		return ch, nil
	}
	go func() {
		defer close(ch)
		for output.LastEvaluatedKey != nil {
			output, err = s.client.Scan(ctx, &dynamodb.ScanInput{
				TableName:         aws.String(s.tableName),
				Select:            types.SelectAllAttributes,
				ConsistentRead:    aws.Bool(false),
				ExclusiveStartKey: output.LastEvaluatedKey,
			})
			if err != nil {
				slog.ErrorContext(ctx, "background scan failed", "table_name", s.tableName, "error", err)
				return
			}
			ch <- Map(output.Items, NewDeliveryItemWithDynamoDBAttributeValues)
		}
	}()
	return ch, nil
}

func (s *DynamoDBStorage) FindOneByDeliveryID(ctx context.Context, deliveryID string) (*DeliveryItem, error) {
	output, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"DeliveryID": &types.AttributeValueMemberS{Value: deliveryID},
		},
	})
	if err != nil {
		return nil, err
	}
	if len(output.Item) == 0 {
		return nil, &DeliveryNotFound{DeliveryID: deliveryID}
	}
	return NewDeliveryItemWithDynamoDBAttributeValues(output.Item), nil
}

func (s *DynamoDBStorage) DeleteDelivery(ctx context.Context, target *DeliveryItem) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"DeliveryID": &types.AttributeValueMemberS{Value: target.DeliveryID},
		},
		ConditionExpression: aws.String("attribute_exists(DeliveryID)"),
	})
	return err
}

// FileStorage keeps the delivery log in a local gob file guarded by a file
// lock, suitable for development and tests.
type FileStorage struct {
	Items []*DeliveryItem

	LockFile string
	FilePath string
}

func NewFileStorage(_ context.Context, cfg StorageOption) (*FileStorage, error) {
	return &FileStorage{
		FilePath: cfg.DataFile,
		LockFile: cfg.LockFile,
	}, nil
}

func (s *FileStorage) SaveDelivery(ctx context.Context, item *DeliveryItem) error {
	return s.transactional(ctx, func(context.Context) error {
		for _, c := range s.Items {
			if c.DeliveryID == item.DeliveryID {
				return &DeliveryAlreadyExists{DeliveryID: item.DeliveryID}
			}
		}
		s.Items = append(s.Items, item)
		return nil
	})
}

func (s *FileStorage) FindAllDeliveries(ctx context.Context) (<-chan []*DeliveryItem, error) {
	ch := make(chan []*DeliveryItem, 1)
	go func() {
		if err := s.transactional(ctx, func(context.Context) error {
			ch <- s.Items
			return nil
		}); err != nil {
			slog.ErrorContext(ctx, "background deliveries read failed", "error", err)
		}
		close(ch)
	}()
	return ch, nil
}

func (s *FileStorage) FindOneByDeliveryID(ctx context.Context, deliveryID string) (*DeliveryItem, error) {
	var ret *DeliveryItem
	if err := s.transactional(ctx, func(context.Context) error {
		for _, item := range s.Items {
			if item.DeliveryID == deliveryID {
				ret = item
				return nil
			}
		}
		return &DeliveryNotFound{DeliveryID: deliveryID}
	}); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *FileStorage) DeleteDelivery(ctx context.Context, target *DeliveryItem) error {
	return s.transactional(ctx, func(context.Context) error {
		for i, item := range s.Items {
			if target.DeliveryID == item.DeliveryID {
				s.Items = append(s.Items[:i], s.Items[i+1:]...)
				return nil
			}
		}
		return nil
	})
}

func (s *FileStorage) transactional(ctx context.Context, fn func(context.Context) error) error {
	fileLock := flock.New(s.LockFile)
	policy := retry.Policy{
		MinDelay: 100 * time.Millisecond,
		MaxDelay: 1 * time.Second,
		MaxCount: 10,
		Jitter:   35 * time.Millisecond,
	}
	retrier := policy.Start(ctx)
	var err error
	var locked bool
	for retrier.Continue() {
		locked, err = fileLock.TryLock()
		if err != nil {
			continue
		}
		if locked {
			break
		}
	}
	if !locked {
		return fmt.Errorf("cannot get lock: %w", err)
	}
	defer func() {
		if err := fileLock.Unlock(); err != nil {
			slog.WarnContext(ctx, "file storage unlock failed", "error", err)
		}
	}()
	if err := s.restore(ctx); err != nil {
		return err
	}
	if err := fn(ctx); err != nil {
		return err
	}
	return s.store(ctx)
}

func (s *FileStorage) restore(ctx context.Context) error {
	fp, err := os.Open(s.FilePath)
	if err != nil {
		// first access has no data file yet
		return nil
	}
	defer fp.Close()
	decoder := gob.NewDecoder(fp)
	if err := decoder.Decode(s); err != nil && err != io.EOF {
		slog.ErrorContext(ctx, "failed to restore file storage", "error", err)
		return err
	}
	return nil
}

func (s *FileStorage) store(ctx context.Context) error {
	fp, err := os.Create(s.FilePath)
	if err != nil {
		slog.ErrorContext(ctx, "failed to store file storage", "error", err)
		return err
	}
	defer fp.Close()
	encoder := gob.NewEncoder(fp)
	if err := encoder.Encode(s); err != nil {
		slog.ErrorContext(ctx, "failed to encode file storage", "error", err)
		return err
	}
	return nil
}
