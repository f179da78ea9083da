package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Client submits groups of chains and restores their live state.
type Client struct {
	broker  Broker
	backend Backend
	now     func() time.Time
}

func NewClient(broker Broker, backend Backend) *Client {
	return &Client{broker: broker, backend: backend, now: time.Now}
}

func (c *Client) Backend() Backend { return c.backend }

// SubmitGroup assigns an id to every stage, records them as PENDING, saves the group and
// publishes each chain head to run no earlier than countdown from now. The group is
// saved before publishing so RestoreGroup resolves as soon as this returns. A publish
// failure after the first head wraps ErrPartialPublish: those heads will still run.
func (c *Client) SubmitGroup(ctx context.Context, groupID string, chains []Chain, countdown time.Duration) (*GroupResult, error) {
	const op = "taskqueue.Client.SubmitGroup"

	if groupID == "" {
		groupID = uuid.NewString()
	}
	now := c.now()
	group := GroupMeta{ID: groupID, CreatedAt: now}
	heads := make([]Message, 0, len(chains))

	for i, chain := range chains {
		if len(chain) == 0 {
			return nil, fmt.Errorf("%s: chain %d is empty", op, i)
		}
		links := make([]Link, len(chain))
		parentID := ""
		for j, sig := range chain {
			links[j] = Link{ID: uuid.NewString(), Task: sig.Task, Args: sig.Args}
			meta := TaskMeta{
				ID:        links[j].ID,
				Task:      sig.Task,
				Status:    StatusPending,
				ParentID:  parentID,
				GroupID:   groupID,
				UpdatedAt: now,
			}
			if err := c.backend.SetMeta(ctx, meta); err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			parentID = links[j].ID
		}
		group.Tails = append(group.Tails, links[len(links)-1].ID)
		heads = append(heads, Message{
			ID:      links[0].ID,
			Task:    links[0].Task,
			Args:    links[0].Args,
			GroupID: groupID,
			Links:   links[1:],
			ETA:     now.Add(countdown),
		})
	}

	if err := c.backend.SaveGroup(ctx, group); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	for i, msg := range heads {
		if err := c.broker.Publish(ctx, msg); err != nil {
			if i > 0 {
				return nil, fmt.Errorf("%s: publish %s: %w: %w", op, msg.ID, ErrPartialPublish, err)
			}
			return nil, fmt.Errorf("%s: publish %s: %w", op, msg.ID, err)
		}
	}
	return c.RestoreGroup(ctx, groupID)
}

// RestoreGroup reads the current status of every chain tail and its parent.
func (c *Client) RestoreGroup(ctx context.Context, groupID string) (*GroupResult, error) {
	const op = "taskqueue.Client.RestoreGroup"

	group, err := c.backend.GetGroup(ctx, groupID)
	if err != nil {
		if errors.Is(err, ErrGroupNotFound) {
			return nil, fmt.Errorf("%s: %s: %w", op, groupID, ErrGroupNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	res := &GroupResult{ID: group.ID, results: make([]ChainResult, 0, len(group.Tails))}
	for _, tailID := range group.Tails {
		tail, err := c.status(ctx, tailID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		cr := ChainResult{TaskID: tailID, Status: tail.Status}
		if tail.ParentID != "" {
			parent, err := c.status(ctx, tail.ParentID)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			cr.ParentID = tail.ParentID
			cr.ParentStatus = parent.Status
		}
		res.results = append(res.results, cr)
	}
	return res, nil
}

// status treats expired or never-written state as PENDING.
func (c *Client) status(ctx context.Context, taskID string) (TaskMeta, error) {
	meta, err := c.backend.GetMeta(ctx, taskID)
	if errors.Is(err, ErrTaskNotFound) {
		return TaskMeta{ID: taskID, Status: StatusPending}, nil
	}
	return meta, err
}

// ChainResult is the state of one chain: its tail task and the tail's parent.
type ChainResult struct {
	TaskID       string
	Status       Status
	ParentID     string
	ParentStatus Status
}

// GroupResult is a point-in-time view of a group.
type GroupResult struct {
	ID      string
	results []ChainResult
}

func (g *GroupResult) Len() int { return len(g.results) }

func (g *GroupResult) Results() []ChainResult {
	return append([]ChainResult(nil), g.results...)
}
