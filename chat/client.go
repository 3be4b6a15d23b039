package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/Schachte/gchat-api-reverse-engineer-sub002/logger"
	"github.com/Schachte/gchat-api-reverse-engineer-sub002/pblite"
)

// Caller dispatches raw RPCs. The transport satisfies it; tests substitute a
// fake that replays canned documents.
type Caller interface {
	CallProtoJSON(ctx context.Context, method string, request any) (pblite.Doc, error)
	CallBatch(ctx context.Context, rpcID string, request any) (pblite.Doc, error)
}

// Client is the typed RPC surface over the upstream service. Each method
// builds the request document, dispatches it on the endpoint the rpc table
// assigns, and maps the response.
type Client struct {
	caller Caller
	mapper *Mapper
	log    *logger.Logger
}

// NewClient creates a Client.
func NewClient(caller Caller, mapper *Mapper, log *logger.Logger) *Client {
	return &Client{caller: caller, mapper: mapper, log: log}
}

// call dispatches the named logical RPC per the table.
func (c *Client) call(ctx context.Context, name string, request any) (pblite.Doc, error) {
	spec, ok := rpcTable[name]
	if !ok {
		return nil, fmt.Errorf("chat: unknown rpc %q", name)
	}
	if spec.Endpoint == EndpointBatch {
		return c.caller.CallBatch(ctx, spec.BatchID, request)
	}
	return c.caller.CallProtoJSON(ctx, spec.Method, request)
}

// WhoAmI returns the authenticated user.
func (c *Client) WhoAmI(ctx context.Context) (UserRef, error) {
	payload, err := c.call(ctx, rpcGetSelfUserStatus, selfUserStatusRequest())
	if err != nil {
		return UserRef{}, err
	}
	user, ok := c.mapper.DecodeSelfUser(payload)
	if !ok {
		return UserRef{}, errors.New("chat: self user missing from response")
	}
	return user, nil
}

// ListWorld returns one page of the conversation list. cursorMicros of 0
// starts from the newest; the returned cursor continues the pagination and
// is 0 when exhausted.
func (c *Client) ListWorld(ctx context.Context, cursorMicros int64) ([]WorldItem, int64, error) {
	payload, err := c.call(ctx, rpcPaginatedWorld, paginatedWorldRequest(cursorMicros))
	if err != nil {
		return nil, 0, err
	}
	items, next := c.mapper.DecodeWorldItems(payload)
	return items, next, nil
}

// Notifications returns the world items that carry unreads, preserving the
// server's ordering.
func (c *Client) Notifications(ctx context.Context) ([]WorldItem, error) {
	items, _, err := c.ListWorld(ctx, 0)
	if err != nil {
		return nil, err
	}
	var unread []WorldItem
	for _, item := range items {
		if item.UnreadCount > 0 || item.NotificationCategory != CategoryNone {
			unread = append(unread, item)
		}
	}
	return unread, nil
}

// ListTopics fetches one page of topics for a group. cursors resumes a
// pagination when non-zero; the anchor inside it is echoed unchanged.
func (c *Client) ListTopics(ctx context.Context, group GroupId, pageSize int, cursors Cursors) (TopicListPage, error) {
	payload, err := c.call(ctx, rpcListTopics, listTopicsRequest(group, pageSize, cursors))
	if err != nil {
		return TopicListPage{}, err
	}
	page := c.mapper.DecodeTopicListPage(payload, group)
	// The anchor is fixed for the whole pagination; the first page sets it
	// and later pages may omit it from the response.
	if page.Cursors.AnchorTimestamp == "" {
		page.Cursors.AnchorTimestamp = cursors.AnchorTimestamp
	}
	return page, nil
}

// ListMessages fetches the full reply list of one topic.
func (c *Client) ListMessages(ctx context.Context, group GroupId, topicID string, pageSize int) ([]Message, error) {
	payload, err := c.call(ctx, rpcListMessages, listMessagesRequest(group, topicID, pageSize))
	if err != nil {
		return nil, err
	}
	return c.mapper.DecodeMessages(payload, group, topicID), nil
}

// GetTopic fetches one topic with its full reply list.
func (c *Client) GetTopic(ctx context.Context, group GroupId, topicID string, pageSize int) (Topic, error) {
	replies, err := c.ListMessages(ctx, group, topicID, pageSize)
	if err != nil {
		return Topic{}, err
	}
	if len(replies) == 0 {
		return Topic{}, fmt.Errorf("chat: topic %s has no messages", topicID)
	}
	return Topic{
		TopicID:    topicID,
		Group:      group,
		SortTime:   replies[len(replies)-1].Timestamp,
		Replies:    replies,
		ReplyCount: len(replies),
	}, nil
}

// PostTopic creates a new topic in the group and returns the root message.
func (c *Client) PostTopic(ctx context.Context, group GroupId, text string) (Message, error) {
	payload, err := c.call(ctx, rpcCreateTopic, createTopicRequest(group, text))
	if err != nil {
		return Message{}, err
	}
	msg, ok := c.mapper.DecodePostedMessage(payload, rpcCreateTopic, group)
	if !ok {
		return Message{}, errors.New("chat: created topic missing from response")
	}
	return msg, nil
}

// PostReply appends a reply to an existing topic.
func (c *Client) PostReply(ctx context.Context, group GroupId, topicID, text string) (Message, error) {
	payload, err := c.call(ctx, rpcCreateMessage, createMessageRequest(group, topicID, text))
	if err != nil {
		return Message{}, err
	}
	msg, ok := c.mapper.DecodePostedMessage(payload, rpcCreateMessage, group)
	if !ok {
		return Message{}, errors.New("chat: created reply missing from response")
	}
	if msg.TopicID == "" {
		msg.TopicID = topicID
	}
	msg.IsThreadReply = true
	return msg, nil
}

// MarkRead marks a group read up to lastReadMicros.
func (c *Client) MarkRead(ctx context.Context, group GroupId, lastReadMicros int64) error {
	_, err := c.call(ctx, rpcMarkGroupRead, markGroupReadRequest(group, lastReadMicros))
	return err
}

// Presence fetches presence for a batch of user ids, preserving input order
// where the server echoes it.
func (c *Client) Presence(ctx context.Context, userIDs []string) ([]Presence, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	payload, err := c.call(ctx, rpcGetUserPresence, presenceRequest(userIDs))
	if err != nil {
		return nil, err
	}
	return c.mapper.DecodePresences(payload), nil
}

// SetPresenceShared refreshes the server-side presence-shared flag with the
// given timeout. The stay-online loop calls it alongside channel pings.
func (c *Client) SetPresenceShared(ctx context.Context, timeoutSecs int) error {
	_, err := c.call(ctx, rpcSetPresenceShared, setPresenceSharedRequest(timeoutSecs))
	return err
}
