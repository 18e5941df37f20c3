package transform

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/abhisheks2010/ALLCDRTOSQL1/internal/dimension"
	"github.com/abhisheks2010/ALLCDRTOSQL1/internal/interpret"
	"github.com/abhisheks2010/ALLCDRTOSQL1/internal/store"
)

// Transformer turns one raw CDR into a fact row plus agent legs, resolving
// every dimension reference through a run-scoped resolver.
type Transformer struct {
	res           *dimension.Resolver
	accountID     string
	defaultRegion string
	log           *logrus.Entry
	now           func() time.Time
}

func NewTransformer(res *dimension.Resolver, accountID, defaultRegion string, log *logrus.Entry) *Transformer {
	return &Transformer{
		res:           res,
		accountID:     accountID,
		defaultRegion: defaultRegion,
		log:           log,
		now:           time.Now,
	}
}

// Transform processes one raw record inside the batch transaction q. An error
// fails only this record; the batch driver marks it and moves on.
func (t *Transformer) Transform(ctx context.Context, q store.DBTX, rec store.RawRecord) error {
	var raw map[string]any
	if err := json.Unmarshal([]byte(rec.Payload), &raw); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	msgID := rec.MsgID
	if msgID == "" {
		msgID = stringField(raw, "msg_id")
	}
	if msgID == "" {
		return fmt.Errorf("record %d has no msg_id", rec.ID)
	}
	callID := stringField(raw, "call_id")

	ts, kind := interpret.ClassifyTimestamp(firstPresent(raw, "interaction_time", "timestamp"), t.now().UTC())
	if kind == interpret.KindFallback {
		t.log.WithFields(logrus.Fields{
			"msg_id": msgID,
			"value":  raw["interaction_time"],
		}).Warn("unclassifiable interaction time, using current time")
	}
	dateKey, timeKey, err := t.resolveDateTime(ctx, q, ts)
	if err != nil {
		return err
	}

	callerKey, err := t.resolveUser(ctx, q, stringField(raw, "caller_id_number"), stringField(raw, "caller_id_name"))
	if err != nil {
		return err
	}
	calleeKey, err := t.resolveUser(ctx, q, stringField(raw, "callee_id_number"), stringField(raw, "callee_id_name"))
	if err != nil {
		return err
	}

	cc := interpret.ExtractCallCenter(raw)
	dispositionKey, err := t.res.Resolve(ctx, q, dimension.Disposition, map[string]any{
		"call_direction":      nullable(stringField(raw, "call_direction")),
		"hangup_cause":        nullable(stringField(raw, "hangup_cause")),
		"disposition":         nullable(cc.Disposition),
		"sub_disposition":     nullable(cc.SubDisposition),
		"sub_sub_disposition": nullable(cc.SubSubDisposition),
	}, nil, false)
	if err != nil {
		return fmt.Errorf("resolve disposition: %w", err)
	}

	systemKey, err := t.resolveSystem(ctx, q, raw)
	if err != nil {
		return err
	}
	campaignKey, err := t.resolveCampaign(ctx, q, raw)
	if err != nil {
		return err
	}
	queueKey, err := t.resolveQueue(ctx, q, cc)
	if err != nil {
		return err
	}

	duration, _ := interpret.AsInt64(raw["duration_seconds"])
	billing, _ := interpret.AsInt64(raw["billing_seconds"])
	isConference, _ := raw["is_conference"].(bool)

	callKey, inserted, err := store.InsertFactCall(ctx, q, store.FactCall{
		MsgID:           msgID,
		CallID:          callID,
		DateKey:         dateKey,
		TimeKey:         timeKey,
		CallerUserKey:   callerKey,
		CalleeUserKey:   calleeKey,
		DispositionKey:  dispositionKey,
		SystemKey:       systemKey,
		CampaignKey:     campaignKey,
		QueueKey:        queueKey,
		DurationSeconds: duration,
		BillingSeconds:  billing,
		IsConference:    isConference,
		RecordingURL:    interpret.RecordingReference(raw, t.accountID),
		Notes:           stringField(raw, "notes"),
	})
	if err != nil {
		return fmt.Errorf("insert fact call: %w", err)
	}
	if !inserted {
		// Fact already ingested; never duplicate its agent legs either.
		t.log.WithField("msg_id", msgID).Debug("fact already present, skipping")
		return nil
	}

	hangupTime, _ := interpret.AsInt64(raw["hangup_time"])
	return t.insertAgentLegs(ctx, q, callKey, cc.AgentEvents, hangupTime)
}

func (t *Transformer) resolveDateTime(ctx context.Context, q store.DBTX, ts time.Time) (int64, int64, error) {
	dateKey := interpret.DateKey(ts)
	if _, err := t.res.Resolve(ctx, q, dimension.Date, map[string]any{"date_key": dateKey}, map[string]any{
		"full_date":   ts.Format("2006-01-02"),
		"year":        ts.Year(),
		"quarter":     interpret.Quarter(ts),
		"month":       int(ts.Month()),
		"day_of_week": ts.Weekday().String(),
	}, false); err != nil {
		return 0, 0, fmt.Errorf("resolve date: %w", err)
	}

	timeKey := interpret.TimeKey(ts)
	if _, err := t.res.Resolve(ctx, q, dimension.TimeOfDay, map[string]any{"time_key": timeKey}, map[string]any{
		"full_time": ts.Format("15:04:05"),
		"hour":      ts.Hour(),
		"minute":    ts.Minute(),
	}, false); err != nil {
		return 0, 0, fmt.Errorf("resolve time of day: %w", err)
	}
	return dateKey, timeKey, nil
}

func (t *Transformer) resolveUser(ctx context.Context, q store.DBTX, number, name string) (*int64, error) {
	if strings.TrimSpace(number) == "" {
		return nil, nil
	}
	pc := interpret.ClassifyPhone(number, t.defaultRegion)
	key, err := t.res.Resolve(ctx, q, dimension.Users,
		map[string]any{"user_number": pc.Number},
		map[string]any{
			"user_name":    nullable(name),
			"country_code": nullableInt(pc.CountryCode),
			"country_name": pc.CountryName,
		}, false)
	if err != nil {
		return nil, fmt.Errorf("resolve user %q: %w", pc.Number, err)
	}
	return &key, nil
}

func (t *Transformer) resolveSystem(ctx context.Context, q store.DBTX, raw map[string]any) (*int64, error) {
	node := stringField(raw, "node")
	if node == "" {
		return nil, nil
	}
	var realm string
	if ccv, ok := raw["custom_channel_vars"].(map[string]any); ok {
		realm, _ = ccv["realm"].(string)
	}
	key, err := t.res.Resolve(ctx, q, dimension.System,
		map[string]any{"switch_hostname": node},
		map[string]any{
			"app_name": nullable(stringField(raw, "app_name")),
			"realm":    nullable(realm),
		}, false)
	if err != nil {
		return nil, fmt.Errorf("resolve system: %w", err)
	}
	return &key, nil
}

func (t *Transformer) resolveCampaign(ctx context.Context, q store.DBTX, raw map[string]any) (*int64, error) {
	campaignID := stringField(raw, "campaign_id")
	if campaignID == "" {
		return nil, nil
	}
	key, err := t.res.Resolve(ctx, q, dimension.Campaigns,
		map[string]any{"campaign_id": campaignID},
		map[string]any{"campaign_name": nullable(stringField(raw, "campaign_name"))}, false)
	if err != nil {
		return nil, fmt.Errorf("resolve campaign: %w", err)
	}
	return &key, nil
}

func (t *Transformer) resolveQueue(ctx context.Context, q store.DBTX, cc interpret.CallCenter) (*int64, error) {
	queueID := cc.QueueID
	if queueID == "" {
		// A name-only queue keys the dimension by its own name.
		queueID = cc.QueueName
	}
	if queueID == "" {
		return nil, nil
	}
	key, err := t.res.Resolve(ctx, q, dimension.Queues,
		map[string]any{"queue_id": queueID},
		map[string]any{"queue_name": nullable(cc.QueueName)}, false)
	if err != nil {
		return nil, fmt.Errorf("resolve queue: %w", err)
	}
	return &key, nil
}

// insertAgentLegs writes one leg per distinct agent extension. Wait is
// answer-dial and talk is hangup-answer, each only when both ends are
// present. Wrap-up stays zero: no upstream field supplies it.
func (t *Transformer) insertAgentLegs(ctx context.Context, q store.DBTX, callKey int64, events []interpret.AgentEvent, hangupTime int64) error {
	seen := make(map[string]struct{}, len(events))
	for _, ev := range events {
		if _, dup := seen[ev.Extension]; dup {
			continue
		}
		seen[ev.Extension] = struct{}{}

		pc := interpret.ClassifyPhone(ev.Extension, t.defaultRegion)
		agentKey, err := t.res.Resolve(ctx, q, dimension.Users,
			map[string]any{"user_number": pc.Number},
			map[string]any{
				"user_name":    nil,
				"country_code": nullableInt(pc.CountryCode),
				"country_name": pc.CountryName,
			}, true)
		if err != nil {
			return fmt.Errorf("resolve agent %q: %w", ev.Extension, err)
		}

		var wait, talk int64
		if ev.DialTime > 0 && ev.AnswerTime > 0 {
			wait = ev.AnswerTime - ev.DialTime
		}
		if ev.AnswerTime > 0 && hangupTime > 0 {
			talk = hangupTime - ev.AnswerTime
		}
		if err := store.InsertAgentLeg(ctx, q, store.AgentLeg{
			CallKey:      callKey,
			AgentUserKey: agentKey,
			WaitSeconds:  wait,
			TalkSeconds:  talk,
		}); err != nil {
			return fmt.Errorf("insert agent leg: %w", err)
		}
	}
	return nil
}

func stringField(raw map[string]any, key string) string {
	s, _ := raw[key].(string)
	return strings.TrimSpace(s)
}

func firstPresent(raw map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func nullable(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

func nullableInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}
