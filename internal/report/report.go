// Package report answers the read-only admin queries.
package report

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/syntaxvpn/vpnpool/internal/db"
	"github.com/syntaxvpn/vpnpool/internal/models"
	"github.com/syntaxvpn/vpnpool/internal/plans"
	"github.com/syntaxvpn/vpnpool/internal/pool"
	"github.com/syntaxvpn/vpnpool/internal/selector"
	"github.com/syntaxvpn/vpnpool/internal/vpnsync"
	"gorm.io/gorm"

	log "github.com/sirupsen/logrus"
)

const defaultUserLimit = 100

// LoadSource reports per-server occupancy.
type LoadSource interface {
	Snapshot(ctx context.Context) []selector.ServerLoad
}

// ConnectionSource maps client tags to device counts on a server.
type ConnectionSource interface {
	Connections(ctx context.Context, server string) (map[string]int, error)
}

// ServerReport combines pool usage with live load.
type ServerReport struct {
	Name   string `json:"name"`
	Label  string `json:"label"`
	Used   int64  `json:"used"`
	Total  int64  `json:"total"`
	Online int    `json:"online"`
	Max    int    `json:"max"`
	Known  bool   `json:"known"`
}

// Stats is the dashboard summary.
type Stats struct {
	TotalUsers          int64          `json:"total_users"`
	ActiveSubscriptions int64          `json:"active_subscriptions"`
	Revenue             float64        `json:"revenue"`
	FreeIdentifiers     int64          `json:"free_uuids"`
	Online              int            `json:"online"`
	Servers             []ServerReport `json:"servers"`
}

// UserReport is one row of the users table.
type UserReport struct {
	TelegramID int64      `json:"telegram_id"`
	Username   string     `json:"username"`
	FullName   string     `json:"full_name"`
	CreatedAt  time.Time  `json:"created_at"`
	PlanID     string     `json:"plan_id,omitempty"`
	UUID       string     `json:"uuid,omitempty"`
	Server     string     `json:"server,omitempty"`
	EndDate    *time.Time `json:"end_date,omitempty"`
	Active     bool       `json:"active"`
}

// ConnectionReport is the device count of one live subscription.
type ConnectionReport struct {
	UUID       string `json:"uuid"`
	Server     string `json:"server"`
	TelegramID int64  `json:"telegram_id"`
	Username   string `json:"username"`
	FullName   string `json:"full_name"`
	Devices    int    `json:"devices"`
}

// Reporter runs the admin projections.
type Reporter struct {
	db          *gorm.DB
	plans       *plans.Catalogue
	pool        *pool.Pool
	loads       LoadSource
	connections ConnectionSource
	now         func() time.Time
}

// New constructs a Reporter. loads and connections may be nil.
func New(conn *gorm.DB, catalogue *plans.Catalogue, p *pool.Pool, loads LoadSource, connections ConnectionSource) *Reporter {
	return &Reporter{db: conn, plans: catalogue, pool: p, loads: loads, connections: connections, now: time.Now}
}

// Stats returns the dashboard summary.
func (r *Reporter) Stats(ctx context.Context) (Stats, error) {
	var out Stats
	conn := r.db.WithContext(ctx)
	if errUsers := conn.Model(&models.User{}).Count(&out.TotalUsers).Error; errUsers != nil {
		return Stats{}, fmt.Errorf("report: count users: %w", errUsers)
	}
	if errActive := conn.Model(&models.Subscription{}).
		Where("is_active = ? AND end_date > ?", true, r.now().UTC()).
		Count(&out.ActiveSubscriptions).Error; errActive != nil {
		return Stats{}, fmt.Errorf("report: count active subscriptions: %w", errActive)
	}

	revenue, errRevenue := r.revenue(ctx)
	if errRevenue != nil {
		return Stats{}, errRevenue
	}
	out.Revenue = revenue

	poolStats, errPool := r.pool.Stats(ctx)
	if errPool != nil {
		return Stats{}, errPool
	}
	out.FreeIdentifiers = poolStats.Free

	if r.loads != nil {
		for _, load := range r.loads.Snapshot(ctx) {
			used := poolStats.Server(load.Name)
			out.Servers = append(out.Servers, ServerReport{
				Name:   load.Name,
				Label:  load.Label,
				Used:   used.Used,
				Total:  used.Total,
				Online: load.Occupancy,
				Max:    load.MaxUsers,
				Known:  load.Known,
			})
			out.Online += load.Occupancy
		}
	}
	return out, nil
}

type planCount struct {
	PlanID string
	Count  int64
}

// revenue sums plan prices over every subscription ever recorded.
func (r *Reporter) revenue(ctx context.Context) (float64, error) {
	var rows []planCount
	if errQuery := r.db.WithContext(ctx).Model(&models.Subscription{}).
		Select("plan_id, COUNT(*) AS count").
		Group("plan_id").
		Scan(&rows).Error; errQuery != nil {
		return 0, fmt.Errorf("report: revenue: %w", errQuery)
	}
	var total float64
	for _, row := range rows {
		total += r.plans.Price(row.PlanID) * float64(row.Count)
	}
	return total, nil
}

// Users lists the newest users with their active subscription. A non-empty
// search matches username or full name case-insensitively, or the exact
// account id.
func (r *Reporter) Users(ctx context.Context, limit int, search string) ([]UserReport, error) {
	if limit <= 0 {
		limit = defaultUserLimit
	}
	query := r.db.WithContext(ctx).Model(&models.User{})
	if search = strings.TrimSpace(search); search != "" {
		pattern := db.NormalizeLikePattern(r.db, "%"+search+"%")
		cond := db.CaseInsensitiveLikeExpr(r.db, "username") + " OR " + db.CaseInsensitiveLikeExpr(r.db, "full_name")
		args := []any{pattern, pattern}
		if id, errParse := strconv.ParseInt(search, 10, 64); errParse == nil {
			cond += " OR telegram_id = ?"
			args = append(args, id)
		}
		query = query.Where(cond, args...)
	}
	var users []models.User
	if errFind := query.Order("created_at DESC, id DESC").Limit(limit).Find(&users).Error; errFind != nil {
		return nil, fmt.Errorf("report: list users: %w", errFind)
	}
	if len(users) == 0 {
		return []UserReport{}, nil
	}

	ids := make([]int64, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.TelegramID)
	}
	var subs []models.Subscription
	if errSubs := r.db.WithContext(ctx).
		Where("telegram_id IN ? AND is_active = ?", ids, true).
		Find(&subs).Error; errSubs != nil {
		return nil, fmt.Errorf("report: list subscriptions: %w", errSubs)
	}
	byUser := make(map[int64]models.Subscription, len(subs))
	for _, s := range subs {
		byUser[s.TelegramID] = s
	}

	now := r.now()
	out := make([]UserReport, 0, len(users))
	for _, u := range users {
		row := UserReport{
			TelegramID: u.TelegramID,
			Username:   u.Username,
			FullName:   u.FullName,
			CreatedAt:  u.CreatedAt,
		}
		if s, ok := byUser[u.TelegramID]; ok {
			end := s.EndDate
			row.PlanID = s.PlanID
			row.UUID = s.UUID
			row.Server = s.Server
			row.EndDate = &end
			row.Active = s.Live(now)
		}
		out = append(out, row)
	}
	return out, nil
}

// Pool returns per-server identifier usage.
func (r *Reporter) Pool(ctx context.Context) (pool.Stats, error) {
	return r.pool.Stats(ctx)
}

type liveSubscription struct {
	UUID       string
	Server     string
	TelegramID int64
	Username   string
	FullName   string
}

// Connections reports connected devices for every live subscription.
// Servers whose connection data cannot be read report zero devices.
func (r *Reporter) Connections(ctx context.Context) ([]ConnectionReport, error) {
	var rows []liveSubscription
	if errQuery := r.db.WithContext(ctx).Table("subscriptions AS s").
		Select("s.uuid, s.server, s.telegram_id, u.username, u.full_name").
		Joins("LEFT JOIN users AS u ON u.telegram_id = s.telegram_id").
		Where("s.is_active = ? AND s.end_date > ?", true, r.now().UTC()).
		Order("s.id ASC").
		Scan(&rows).Error; errQuery != nil {
		return nil, fmt.Errorf("report: live subscriptions: %w", errQuery)
	}

	devices := make(map[string]map[string]int)
	if r.connections != nil {
		for _, row := range rows {
			if _, done := devices[row.Server]; done {
				continue
			}
			counts, errConn := r.connections.Connections(ctx, row.Server)
			if errConn != nil {
				log.WithError(errConn).WithField("server", row.Server).Warn("report: connections unavailable")
				counts = map[string]int{}
			}
			devices[row.Server] = counts
		}
	}

	out := make([]ConnectionReport, 0, len(rows))
	for _, row := range rows {
		out = append(out, ConnectionReport{
			UUID:       row.UUID,
			Server:     row.Server,
			TelegramID: row.TelegramID,
			Username:   row.Username,
			FullName:   row.FullName,
			Devices:    devices[row.Server][vpnsync.EmailFor(row.UUID)],
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Devices > out[j].Devices })
	return out, nil
}
