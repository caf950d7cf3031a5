package keyregistry

import (
	"context"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/client"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/pkg/errors"
)

const (
	dynamoHashKey = "id"

	kindKey     = "key"
	kindSetting = "setting"
)

// dynamoItem is the shape of both key records and settings in the table.
// Items are told apart by Kind.
type dynamoItem struct {
	ID         string    `dynamodbav:"id"`
	Kind       string    `dynamodbav:"kind"`
	Label      string    `dynamodbav:"label,omitempty"`
	WrappedDEK []byte    `dynamodbav:"wrapped_dek,omitempty"`
	WrapNonce  []byte    `dynamodbav:"wrap_nonce,omitempty"`
	CreatedAt  time.Time `dynamodbav:"created_at,omitempty"`
	Value      string    `dynamodbav:"value,omitempty"`
}

func keyID(label string) string    { return kindKey + "#" + label }
func settingID(name string) string { return kindSetting + "#" + name }
func dynamoKey(id string) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{dynamoHashKey: {S: aws.String(id)}}
}

// DynamoRegistry is a Store backed by a single DynamoDB table with a string
// hash key named "id".
type DynamoRegistry struct {
	client    dynamodbiface.DynamoDBAPI
	tableName string
}

func NewDynamoRegistry(c client.ConfigProvider, tableName string) *DynamoRegistry {
	return NewDynamoRegistryWithClient(dynamodb.New(c), tableName)
}

func NewDynamoRegistryWithClient(c dynamodbiface.DynamoDBAPI, tableName string) *DynamoRegistry {
	return &DynamoRegistry{client: c, tableName: tableName}
}

// CreateTable creates the backing table if it does not exist yet.
func (d *DynamoRegistry) CreateTable(ctx context.Context) error {
	_, err := d.client.CreateTableWithContext(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(d.tableName),
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{AttributeName: aws.String(dynamoHashKey), AttributeType: aws.String(dynamodb.ScalarAttributeTypeS)},
		},
		KeySchema: []*dynamodb.KeySchemaElement{
			{AttributeName: aws.String(dynamoHashKey), KeyType: aws.String(dynamodb.KeyTypeHash)},
		},
		BillingMode: aws.String(dynamodb.BillingModePayPerRequest),
	})
	if isAWSCode(err, dynamodb.ErrCodeResourceInUseException) {
		return nil
	}
	return errors.Wrapf(err, "creating table %s", d.tableName)
}

func (d *DynamoRegistry) Get(ctx context.Context, label string) (*KeyRecord, error) {
	item, err := d.getItem(ctx, keyID(label))
	if err != nil {
		return nil, errors.Wrapf(err, "reading key record %q", label)
	}
	if item == nil {
		return nil, &KeyNotFoundError{Label: label}
	}
	return &KeyRecord{
		Label:      item.Label,
		WrappedDEK: item.WrappedDEK,
		WrapNonce:  item.WrapNonce,
		CreatedAt:  item.CreatedAt,
	}, nil
}

func (d *DynamoRegistry) Put(ctx context.Context, r KeyRecord) error {
	if err := validate(r); err != nil {
		return err
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	av, err := dynamodbattribute.MarshalMap(dynamoItem{
		ID:         keyID(r.Label),
		Kind:       kindKey,
		Label:      r.Label,
		WrappedDEK: r.WrappedDEK,
		WrapNonce:  r.WrapNonce,
		CreatedAt:  r.CreatedAt,
	})
	if err != nil {
		return err
	}

	_, err = d.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(d.tableName),
		Item:                     av,
		ConditionExpression:      aws.String("attribute_not_exists(#id)"),
		ExpressionAttributeNames: map[string]*string{"#id": aws.String(dynamoHashKey)},
	})
	if isAWSCode(err, dynamodb.ErrCodeConditionalCheckFailedException) {
		return &duplicateLabelError{label: r.Label}
	}
	return errors.Wrapf(err, "inserting key record %q", r.Label)
}

func (d *DynamoRegistry) ListLabels(ctx context.Context) ([]string, error) {
	var (
		labels  []string
		scanErr error
	)
	err := d.client.ScanPagesWithContext(ctx, &dynamodb.ScanInput{
		TableName:                 aws.String(d.tableName),
		FilterExpression:          aws.String("#kind = :kind"),
		ExpressionAttributeNames:  map[string]*string{"#kind": aws.String("kind")},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{":kind": {S: aws.String(kindKey)}},
	}, func(page *dynamodb.ScanOutput, lastPage bool) bool {
		var items []dynamoItem
		if scanErr = dynamodbattribute.UnmarshalListOfMaps(page.Items, &items); scanErr != nil {
			return false
		}
		for _, item := range items {
			labels = append(labels, item.Label)
		}
		return true
	})
	if err == nil {
		err = scanErr
	}
	if err != nil {
		return nil, errors.Wrap(err, "listing key records")
	}
	sort.Strings(labels)
	return labels, nil
}

func (d *DynamoRegistry) WriteLabel(ctx context.Context) (string, error) {
	item, err := d.getItem(ctx, settingID(WriteLabelSetting))
	if err != nil {
		return "", errors.Wrap(err, "reading write label")
	}
	if item == nil {
		return "", ErrSettingNotFound
	}
	return item.Value, nil
}

func (d *DynamoRegistry) SetWriteLabel(ctx context.Context, label string) error {
	av, err := dynamodbattribute.MarshalMap(dynamoItem{
		ID:    settingID(WriteLabelSetting),
		Kind:  kindSetting,
		Value: label,
	})
	if err != nil {
		return err
	}
	_, err = d.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      av,
	})
	return errors.Wrap(err, "storing write label")
}

// getItem returns nil, nil when the item does not exist.
func (d *DynamoRegistry) getItem(ctx context.Context, id string) (*dynamoItem, error) {
	out, err := d.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		Key:            dynamoKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	var item dynamoItem
	if err := dynamodbattribute.UnmarshalMap(out.Item, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func isAWSCode(err error, code string) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		return aerr.Code() == code
	}
	return false
}
