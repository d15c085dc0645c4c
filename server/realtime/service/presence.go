package service

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	commonlog "rtc_server/server/common/log"
)

const (
	presenceOnlineKeyPrefix   = "presence:online:"
	presenceLastSeenKeyPrefix = "presence:last_seen:"
)

type userDirectory interface {
	SetUserPresence(ctx context.Context, userID string, online bool) error
	SetUserLastSeen(ctx context.Context, userID string, at time.Time) error
}

// Recorder mirrors presence flips into Redis for cheap reads by sibling
// services and persists them through the store service. It runs off the
// realtime path and only logs failures.
type Recorder struct {
	store userDirectory
	redis *redis.Client
}

func NewRecorder(store userDirectory, redisClient *redis.Client) *Recorder {
	return &Recorder{store: store, redis: redisClient}
}

func (r *Recorder) RecordOnline(ctx context.Context, userID string, online bool, at time.Time) {
	if r.redis != nil {
		if online {
			if err := r.redis.Set(ctx, presenceOnlineKeyPrefix+userID, "1", 0).Err(); err != nil {
				commonlog.Warnf("event=presence_mirror action=set_online status=failed user_id=%s error=%v", userID, err)
			}
		} else {
			if err := r.redis.Del(ctx, presenceOnlineKeyPrefix+userID).Err(); err != nil {
				commonlog.Warnf("event=presence_mirror action=del_online status=failed user_id=%s error=%v", userID, err)
			}
			if err := r.redis.Set(ctx, presenceLastSeenKeyPrefix+userID, at.Format(time.RFC3339), 0).Err(); err != nil {
				commonlog.Warnf("event=presence_mirror action=set_last_seen status=failed user_id=%s error=%v", userID, err)
			}
		}
	}
	if r.store == nil {
		return
	}
	if err := r.store.SetUserPresence(ctx, userID, online); err != nil {
		commonlog.Warnf("event=presence_persist action=set_online status=failed user_id=%s error=%v", userID, err)
	}
	if !online {
		if err := r.store.SetUserLastSeen(ctx, userID, at); err != nil {
			commonlog.Warnf("event=presence_persist action=set_last_seen status=failed user_id=%s error=%v", userID, err)
		}
	}
}
