package pool

import (
	"context"
	"fmt"
	"sort"

	"github.com/syntaxvpn/vpnpool/internal/models"
)

// ServerStats is the used/total count for one server.
type ServerStats struct {
	Server string `json:"server"`
	Used   int64  `json:"used"`
	Total  int64  `json:"total"`
}

// Free returns the number of unassigned identifiers.
func (s ServerStats) Free() int64 { return s.Total - s.Used }

// Stats summarises the whole pool.
type Stats struct {
	Servers []ServerStats `json:"servers"`
	Free    int64         `json:"free"`
	Total   int64         `json:"total"`
}

// Server returns the counts for one server.
func (s Stats) Server(name string) ServerStats {
	for _, item := range s.Servers {
		if item.Server == name {
			return item
		}
	}
	return ServerStats{Server: name}
}

// Stats returns per-server used/total counts ordered by server name.
func (p *Pool) Stats(ctx context.Context) (Stats, error) {
	var rows []ServerStats
	errQuery := p.db.WithContext(ctx).Model(&models.Identifier{}).
		Select("server, COUNT(*) AS total, SUM(CASE WHEN is_used THEN 1 ELSE 0 END) AS used").
		Group("server").
		Scan(&rows).Error
	if errQuery != nil {
		return Stats{}, fmt.Errorf("pool: stats: %w", errQuery)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Server < rows[j].Server })

	out := Stats{Servers: rows}
	for _, row := range rows {
		out.Total += row.Total
		out.Free += row.Free()
	}
	return out, nil
}
