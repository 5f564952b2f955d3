package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"church-assistant/internal/domain"
)

const (
	skPrefixMsg   = "MSG#"
	skMeta        = "META#"
	skWindow      = "WINDOW#"
	skPrefixEntry = "ENTRY#"
	pkKnowledge   = "KB#"
	ttlDuration   = 30 * 24 * time.Hour // 30-day TTL

	// timeLayout is fixed-width so sort keys order lexicographically.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

	batchWriteMax = 25
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// Client stores conversations, messages, rate windows and knowledge entries in
// one DynamoDB table keyed by PK/SK.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

func convPK(conversationID string) string {
	return "CONV#" + conversationID
}

func ratePK(identifier string) string {
	return "RATE#" + identifier
}

// msgSK orders messages by creation time; the message id breaks ties.
func msgSK(ts time.Time, messageID string) string {
	return skPrefixMsg + formatTime(ts) + "#" + messageID
}

func formatTime(ts time.Time) string {
	return ts.UTC().Format(timeLayout)
}

func (c *Client) ttlValue() int64 {
	return c.now().Add(ttlDuration).Unix()
}

// ---------------------------------------------------------------------------
// Conversations and messages
// ---------------------------------------------------------------------------

// CreateConversation writes the conversation metadata record. Existing ids are
// never overwritten.
func (c *Client) CreateConversation(ctx context.Context, conv domain.Conversation) error {
	if conv.ID == "" {
		return errors.New("repository: CreateConversation: id is required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"PK":             &types.AttributeValueMemberS{Value: convPK(conv.ID)},
			"SK":             &types.AttributeValueMemberS{Value: skMeta},
			"conversationId": &types.AttributeValueMemberS{Value: conv.ID},
			"sessionId":      &types.AttributeValueMemberS{Value: conv.SessionID},
			"createdAt":      &types.AttributeValueMemberS{Value: formatTime(conv.CreatedAt)},
			"ttl":            numAttr(c.ttlValue()),
		},
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: CreateConversation: %w", err)
	}
	return nil
}

// GetConversation reads the conversation metadata record.
func (c *Client) GetConversation(ctx context.Context, id string) (domain.Conversation, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: convPK(id)},
			"SK": &types.AttributeValueMemberS{Value: skMeta},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Conversation{}, false, fmt.Errorf("repository: GetConversation get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Conversation{}, false, nil
	}

	sessionID, err := strAttr(out.Item, "sessionId")
	if err != nil {
		return domain.Conversation{}, false, fmt.Errorf("repository: GetConversation decode: %w", err)
	}
	createdAt, _ := timeAttr(out.Item, "createdAt")
	return domain.Conversation{ID: id, SessionID: sessionID, CreatedAt: createdAt}, true, nil
}

// AppendMessage persists a new message record.
func (c *Client) AppendMessage(ctx context.Context, msg domain.Message) error {
	if msg.ID == "" || msg.ConversationID == "" {
		return errors.New("repository: AppendMessage: message and conversation ids are required")
	}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                c.messageItem(msg),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: AppendMessage: %w", err)
	}
	return nil
}

// ListMessages queries the MSG# items of a conversation in chronological
// order. With limit > 0 only the newest limit messages are read.
func (c *Client) ListMessages(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: convPK(conversationID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		ConsistentRead:   aws.Bool(true),
		ScanIndexForward: aws.Bool(true),
	}
	if limit > 0 {
		// Read newest first so LIMIT favors the most recent context.
		in.ScanIndexForward = aws.Bool(false)
		in.Limit = aws.Int32(int32(limit))
	}

	var msgs []domain.Message
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: ListMessages query: %w", err)
		}
		for _, item := range out.Items {
			msg, err := itemToMessage(item)
			if err != nil {
				return nil, fmt.Errorf("repository: ListMessages unmarshal: %w", err)
			}
			msgs = append(msgs, msg)
		}
		if limit > 0 || len(out.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}

	if limit > 0 {
		for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
			msgs[i], msgs[j] = msgs[j], msgs[i]
		}
	}
	return msgs, nil
}

func (c *Client) messageItem(msg domain.Message) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: convPK(msg.ConversationID)},
		"SK":             &types.AttributeValueMemberS{Value: msgSK(msg.CreatedAt, msg.ID)},
		"messageId":      &types.AttributeValueMemberS{Value: msg.ID},
		"conversationId": &types.AttributeValueMemberS{Value: msg.ConversationID},
		"role":           &types.AttributeValueMemberS{Value: string(msg.Role)},
		"content":        &types.AttributeValueMemberS{Value: msg.Content},
		"createdAt":      &types.AttributeValueMemberS{Value: formatTime(msg.CreatedAt)},
		"ttl":            numAttr(c.ttlValue()),
	}
}

func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	id, err := strAttr(item, "messageId")
	if err != nil {
		return domain.Message{}, err
	}
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.Message{}, err
	}
	if !domain.Role(role).Valid() {
		return domain.Message{}, fmt.Errorf("repository: unknown role %q", role)
	}
	content, err := strAttr(item, "content")
	if err != nil {
		return domain.Message{}, err
	}
	conversationID, _ := strAttr(item, "conversationId")
	createdAt, _ := timeAttr(item, "createdAt")

	return domain.Message{
		ID:             id,
		ConversationID: conversationID,
		Role:           domain.Role(role),
		Content:        content,
		CreatedAt:      createdAt,
	}, nil
}

// ---------------------------------------------------------------------------
// Rate windows
// ---------------------------------------------------------------------------

// GetWindow reads the single rate window row of identifier.
func (c *Client) GetWindow(ctx context.Context, identifier string) (domain.RateWindow, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: ratePK(identifier)},
			"SK": &types.AttributeValueMemberS{Value: skWindow},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.RateWindow{}, false, fmt.Errorf("repository: GetWindow get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.RateWindow{}, false, nil
	}

	start, err := timeAttr(out.Item, "windowStart")
	if err != nil {
		return domain.RateWindow{}, false, fmt.Errorf("repository: GetWindow decode windowStart: %w", err)
	}
	count, err := intAttr(out.Item, "requestCount")
	if err != nil {
		return domain.RateWindow{}, false, fmt.Errorf("repository: GetWindow decode requestCount: %w", err)
	}
	return domain.RateWindow{Identifier: identifier, WindowStart: start, RequestCount: count}, true, nil
}

// PutWindow upserts the rate window row. The row expires through the table
// TTL two windows after it started.
func (c *Client) PutWindow(ctx context.Context, w domain.RateWindow, ttl time.Duration) error {
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"PK":           &types.AttributeValueMemberS{Value: ratePK(w.Identifier)},
			"SK":           &types.AttributeValueMemberS{Value: skWindow},
			"identifier":   &types.AttributeValueMemberS{Value: w.Identifier},
			"windowStart":  &types.AttributeValueMemberS{Value: formatTime(w.WindowStart)},
			"requestCount": numAttr(int64(w.RequestCount)),
			"ttl":          numAttr(w.WindowStart.Add(2 * ttl).Unix()),
		},
	})
	if err != nil {
		return fmt.Errorf("repository: PutWindow: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Knowledge entries
// ---------------------------------------------------------------------------

// SearchKnowledge returns the first limit entries in table order. The query
// is not used for filtering; ranking happens in the retriever.
func (c *Client) SearchKnowledge(ctx context.Context, _ string, limit int) ([]domain.KnowledgeEntry, error) {
	in := c.knowledgeQuery()
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}
	out, err := c.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("repository: SearchKnowledge query: %w", err)
	}
	entries := make([]domain.KnowledgeEntry, 0, len(out.Items))
	for _, item := range out.Items {
		e, err := itemToEntry(item)
		if err != nil {
			return nil, fmt.Errorf("repository: SearchKnowledge unmarshal: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// CountKnowledge returns the number of stored knowledge entries.
func (c *Client) CountKnowledge(ctx context.Context) (int, error) {
	in := c.knowledgeQuery()
	in.Select = types.SelectCount
	total := 0
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return 0, fmt.Errorf("repository: CountKnowledge query: %w", err)
		}
		total += int(out.Count)
		if len(out.LastEvaluatedKey) == 0 {
			return total, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// PutKnowledge writes entries in batches of 25. Unprocessed items are
// resubmitted until the table accepts them or ctx ends.
func (c *Client) PutKnowledge(ctx context.Context, entries []domain.KnowledgeEntry) error {
	for start := 0; start < len(entries); start += batchWriteMax {
		end := min(start+batchWriteMax, len(entries))
		reqs := make([]types.WriteRequest, 0, end-start)
		for _, e := range entries[start:end] {
			if e.ID == "" {
				return fmt.Errorf("repository: PutKnowledge: entry %q has no id", e.Title)
			}
			reqs = append(reqs, types.WriteRequest{PutRequest: &types.PutRequest{Item: entryItem(e)}})
		}

		pending := map[string][]types.WriteRequest{c.tableName: reqs}
		for len(pending[c.tableName]) > 0 {
			out, err := c.api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return fmt.Errorf("repository: PutKnowledge: %w", err)
			}
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("repository: PutKnowledge: %w", err)
			}
			pending = out.UnprocessedItems
		}
	}
	return nil
}

func (c *Client) knowledgeQuery() *dynamodb.QueryInput {
	return &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: pkKnowledge},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixEntry},
		},
	}
}

func entryItem(e domain.KnowledgeEntry) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: pkKnowledge},
		"SK":        &types.AttributeValueMemberS{Value: skPrefixEntry + e.ID},
		"entryId":   &types.AttributeValueMemberS{Value: e.ID},
		"title":     &types.AttributeValueMemberS{Value: e.Title},
		"content":   &types.AttributeValueMemberS{Value: e.Content},
		"category":  &types.AttributeValueMemberS{Value: e.Category},
		"entryType": &types.AttributeValueMemberS{Value: e.EntryType},
		"priority":  numAttr(int64(e.Priority)),
	}
	if len(e.Tags) > 0 {
		item["tags"] = &types.AttributeValueMemberL{Value: stringList(e.Tags)}
	}
	return item
}

func itemToEntry(item map[string]types.AttributeValue) (domain.KnowledgeEntry, error) {
	id, err := strAttr(item, "entryId")
	if err != nil {
		return domain.KnowledgeEntry{}, err
	}
	title, err := strAttr(item, "title")
	if err != nil {
		return domain.KnowledgeEntry{}, err
	}
	content, err := strAttr(item, "content")
	if err != nil {
		return domain.KnowledgeEntry{}, err
	}
	category, _ := strAttr(item, "category")
	entryType, _ := strAttr(item, "entryType")
	priority, _ := intAttr(item, "priority")

	var tags []string
	if l, ok := item["tags"].(*types.AttributeValueMemberL); ok {
		for _, v := range l.Value {
			if s, ok := v.(*types.AttributeValueMemberS); ok {
				tags = append(tags, s.Value)
			}
		}
	}

	return domain.KnowledgeEntry{
		ID:        id,
		Title:     title,
		Content:   content,
		Tags:      tags,
		Category:  category,
		EntryType: entryType,
		Priority:  priority,
	}, nil
}

// ---------------------------------------------------------------------------
// Attribute helpers
// ---------------------------------------------------------------------------

func numAttr(n int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

func stringList(values []string) []types.AttributeValue {
	out := make([]types.AttributeValue, 0, len(values))
	for _, v := range values {
		out = append(out, &types.AttributeValueMemberS{Value: v})
	}
	return out
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	s, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	ts, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return ts, nil
}
