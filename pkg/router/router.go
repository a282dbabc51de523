// Package router applies owner policy to gateway push events: anti-recall
// reports, welcome messages, poke replies, honor congratulations and
// friend/group request handling.
package router

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"runtime/debug"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/openclaw-qq/qqbridge/pkg/cache"
	"github.com/openclaw-qq/qqbridge/pkg/config"
	"github.com/openclaw-qq/qqbridge/pkg/eventlog"
	"github.com/openclaw-qq/qqbridge/pkg/logger"
	"github.com/openclaw-qq/qqbridge/pkg/onebot"
	"github.com/openclaw-qq/qqbridge/pkg/requests"
)

const (
	sideEffectTimeout = 30 * time.Second
	patternCacheSize  = 64
)

// PolicySource yields the policy to apply to the next event.
type PolicySource interface {
	Policy() config.PolicyConfig
}

// PolicyFunc adapts a function to PolicySource.
type PolicyFunc func() config.PolicyConfig

func (f PolicyFunc) Policy() config.PolicyConfig { return f() }

// NotifyFunc delivers a text to the owner.
type NotifyFunc func(ctx context.Context, ownerID int64, text string) error

// ResolveFunc applies an owner decision to a pending request.
type ResolveFunc func(ctx context.Context, d requests.Decision) (requests.Request, error)

type Options struct {
	// Name is the account name, used as the event log source.
	Name    string
	Client  onebot.Caller
	Policy  PolicySource
	Cache   *cache.MessageCache
	Pending *requests.Store

	// SelfID returns the gateway's own id once known. Events' self_id is
	// used while it returns 0.
	SelfID func() int64
	// Notify overrides owner delivery; by default a private message is sent
	// to the policy's owner id through Client.
	Notify NotifyFunc
	// Resolver handles owner chat commands. When several accounts share
	// the pending store it must route by the request's account; by
	// default this router's Resolve is used.
	Resolver ResolveFunc
	Events   *eventlog.Log

	Rand      func(n int) int
	AfterFunc func(d time.Duration, f func())
}

type Router struct {
	name      string
	api       *onebot.API
	policy    PolicySource
	cache     *cache.MessageCache
	pending   *requests.Store
	selfID    func() int64
	notify    NotifyFunc
	resolver  ResolveFunc
	events    *eventlog.Log
	rand      func(n int) int
	afterFunc func(d time.Duration, f func())
	patterns  *lru.Cache[string, *regexp.Regexp]
}

func New(opts Options) *Router {
	r := &Router{
		name:      opts.Name,
		api:       onebot.NewAPI(opts.Client),
		policy:    opts.Policy,
		cache:     opts.Cache,
		pending:   opts.Pending,
		selfID:    opts.SelfID,
		notify:    opts.Notify,
		resolver:  opts.Resolver,
		events:    opts.Events,
		rand:      opts.Rand,
		afterFunc: opts.AfterFunc,
	}
	if r.name == "" {
		r.name = config.PlatformQQ
	}
	if r.policy == nil {
		r.policy = PolicyFunc(config.DefaultPolicy)
	}
	if r.cache == nil {
		r.cache = cache.New(cache.DefaultCapacity)
	}
	if r.pending == nil {
		r.pending = requests.NewStore(requests.DefaultTTL)
	}
	if r.resolver == nil {
		r.resolver = r.Resolve
	}
	if r.rand == nil {
		r.rand = rand.Intn
	}
	if r.afterFunc == nil {
		r.afterFunc = func(d time.Duration, f func()) { time.AfterFunc(d, f) }
	}
	r.patterns, _ = lru.New[string, *regexp.Regexp](patternCacheSize)
	return r
}

func (r *Router) Name() string { return r.name }

func (r *Router) Cache() *cache.MessageCache { return r.cache }

func (r *Router) Pending() *requests.Store { return r.pending }

// Handle routes one push event. It never panics and never returns an error:
// a failing side effect only aborts the rest of this event's handling.
func (r *Router) Handle(ctx context.Context, evt *onebot.Event) {
	if evt == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			logger.ErrorCF("router", "Event handler panicked", map[string]interface{}{
				"account": r.name,
				"kind":    evt.Kind(),
				"panic":   fmt.Sprintf("%v", rec),
				"stack":   string(debug.Stack()),
			})
		}
	}()

	if evt.PostType == onebot.PostMessage {
		r.cacheMessage(evt)
	}
	if r.events != nil {
		r.events.AddEvent(r.name, evt)
	}

	switch evt.PostType {
	case onebot.PostNotice:
		policy := r.policy.Policy()
		if evt.IsNotify() {
			r.handleNotify(ctx, policy, evt)
		} else {
			r.handleNotice(ctx, policy, evt)
		}
	case onebot.PostRequest:
		r.handleRequest(ctx, r.policy.Policy(), evt)
	}
}

func (r *Router) cacheMessage(evt *onebot.Event) {
	id := evt.MessageID.String()
	text := evt.Text()
	if id == "" || text == "" {
		return
	}
	at := time.Now()
	if evt.Time > 0 {
		at = time.Unix(evt.Time.Int64(), 0)
	}
	r.cache.Put(cache.CachedMessage{
		ID:       id,
		Text:     text,
		UserID:   evt.UserID.Int64(),
		GroupID:  evt.GroupID.Int64(),
		Time:     at,
		Platform: r.name,
	})
}

func (r *Router) self(evt *onebot.Event) int64 {
	if r.selfID != nil {
		if id := r.selfID(); id != 0 {
			return id
		}
	}
	return evt.SelfID.Int64()
}

// notifyOwner sends text to the owner. Failures are logged and swallowed so
// they never undo the action being reported.
func (r *Router) notifyOwner(ctx context.Context, policy config.PolicyConfig, text string) {
	var err error
	if r.notify != nil {
		err = r.notify(ctx, policy.OwnerID, text)
	} else {
		if policy.OwnerID == 0 {
			logger.DebugCF("router", "No owner configured, notification dropped", map[string]interface{}{
				"account": r.name,
			})
			return
		}
		_, err = r.api.SendPrivateMsg(ctx, policy.OwnerID, onebot.TextMessage(text))
	}
	if err != nil {
		logger.WarnCF("router", "Failed to notify owner", map[string]interface{}{
			"account": r.name,
			"error":   err.Error(),
		})
		return
	}
	r.logOutbound("notify_owner", text)
}

func (r *Router) logOutbound(action, detail string) {
	if r.events != nil {
		r.events.AddOutbound(r.name, action, detail)
	}
}

// sendGroup and sendPrivate log failures; callers have nothing else to do with them.
func (r *Router) sendGroup(ctx context.Context, groupID int64, msg onebot.Message, what string) bool {
	if _, err := r.api.SendGroupMsg(ctx, groupID, msg); err != nil {
		logger.WarnCF("router", "send_group_msg failed", map[string]interface{}{
			"account":  r.name,
			"group_id": groupID,
			"purpose":  what,
			"error":    err.Error(),
		})
		return false
	}
	r.logOutbound("send_group_msg", fmt.Sprintf("%s → 群%d", what, groupID))
	return true
}

func (r *Router) sendPrivate(ctx context.Context, userID int64, msg onebot.Message, what string) bool {
	if _, err := r.api.SendPrivateMsg(ctx, userID, msg); err != nil {
		logger.WarnCF("router", "send_private_msg failed", map[string]interface{}{
			"account": r.name,
			"user_id": userID,
			"purpose": what,
			"error":   err.Error(),
		})
		return false
	}
	r.logOutbound("send_private_msg", fmt.Sprintf("%s → %d", what, userID))
	return true
}

// matches reports whether comment matches pattern. Empty inputs and invalid
// patterns never match.
func (r *Router) matches(pattern, comment string) bool {
	if pattern == "" || comment == "" {
		return false
	}
	re, ok := r.patterns.Get(pattern)
	if !ok {
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			logger.WarnCF("router", "Invalid auto-approve pattern, treating as no match", map[string]interface{}{
				"account": r.name,
				"pattern": pattern,
				"error":   err.Error(),
			})
			return false
		}
		re = compiled
		r.patterns.Add(pattern, re)
	}
	return re.MatchString(comment)
}

// detached returns a context for side effects that outlive the triggering event.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
}
