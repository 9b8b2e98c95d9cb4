package metrics

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/golang/snappy"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/prometheus/prompb"
	"go.uber.org/zap"
)

// StartRemoteWrite pushes every series carrying a tenant_id label to Mimir on
// each flush interval, until ctx is cancelled. It returns immediately when no
// Mimir URL is configured.
func (c *Collector) StartRemoteWrite(ctx context.Context, logger *zap.Logger) {
	if c.config.URL == "" {
		return
	}

	ticker := time.NewTicker(c.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.writeToMimir(ctx, time.Now()); err != nil {
				logger.Warn("Remote write failed", zap.Error(err))
			}
		}
	}
}

func (c *Collector) writeToMimir(ctx context.Context, now time.Time) error {
	mfs, err := c.gatherer.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	byTenant := metricsToSeries(mfs, now.UnixMilli())

	tenants := make([]string, 0, len(byTenant))
	for tenantID := range byTenant {
		tenants = append(tenants, tenantID)
	}
	sort.Strings(tenants)

	batchSize := c.config.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}

	for _, tenantID := range tenants {
		series := byTenant[tenantID]
		for i := 0; i < len(series); i += batchSize {
			end := min(i+batchSize, len(series))
			if err := c.sendBatch(ctx, tenantID, series[i:end]); err != nil {
				return fmt.Errorf("failed to send batch for tenant %s: %w", tenantID, err)
			}
		}
	}
	return nil
}

// metricsToSeries converts gathered families into remote-write series grouped
// by tenant_id. Series without the label are not pushed.
func metricsToSeries(mfs []*dto.MetricFamily, timestamp int64) map[string][]prompb.TimeSeries {
	byTenant := make(map[string][]prompb.TimeSeries)

	for _, mf := range mfs {
		for _, m := range mf.Metric {
			var tenantID string
			labels := make([]prompb.Label, 0, len(m.Label)+2)
			labels = append(labels, prompb.Label{Name: "__name__", Value: mf.GetName()})

			for _, l := range m.Label {
				if l.GetName() == "tenant_id" {
					tenantID = l.GetValue()
				}
				labels = append(labels, prompb.Label{Name: l.GetName(), Value: l.GetValue()})
			}
			if tenantID == "" {
				continue
			}

			sample := func(name string, value float64, extra ...prompb.Label) {
				ls := append([]prompb.Label{}, labels...)
				ls[0].Value = name
				ls = append(ls, extra...)
				byTenant[tenantID] = append(byTenant[tenantID], prompb.TimeSeries{
					Labels:  ls,
					Samples: []prompb.Sample{{Value: value, Timestamp: timestamp}},
				})
			}

			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				sample(mf.GetName(), m.GetCounter().GetValue())
			case dto.MetricType_GAUGE:
				sample(mf.GetName(), m.GetGauge().GetValue())
			case dto.MetricType_HISTOGRAM:
				hist := m.GetHistogram()
				for _, bucket := range hist.GetBucket() {
					sample(mf.GetName()+"_bucket", float64(bucket.GetCumulativeCount()),
						prompb.Label{Name: "le", Value: formatBound(bucket.GetUpperBound())})
				}
				sample(mf.GetName()+"_bucket", float64(hist.GetSampleCount()),
					prompb.Label{Name: "le", Value: "+Inf"})
				sample(mf.GetName()+"_sum", hist.GetSampleSum())
				sample(mf.GetName()+"_count", float64(hist.GetSampleCount()))
			}
		}
	}

	for _, series := range byTenant {
		for i := range series {
			sort.Slice(series[i].Labels, func(a, b int) bool {
				return series[i].Labels[a].Name < series[i].Labels[b].Name
			})
		}
	}
	return byTenant
}

func formatBound(v float64) string {
	if math.IsInf(v, +1) {
		return "+Inf"
	}
	return fmt.Sprintf("%g", v)
}

func (c *Collector) sendBatch(ctx context.Context, tenantID string, series []prompb.TimeSeries) error {
	req := &prompb.WriteRequest{Timeseries: series}

	data, err := req.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal write request: %w", err)
	}
	compressed := snappy.Encode(nil, data)

	url := strings.TrimRight(c.config.URL, "/") + "/api/v1/push"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(compressed))
	if err != nil {
		return err
	}

	httpReq.Header.Set("Content-Type", "application/x-protobuf")
	httpReq.Header.Set("Content-Encoding", "snappy")
	httpReq.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")
	httpReq.Header.Set(c.config.TenantHeader, tenantID)
	if c.config.AuthToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.AuthToken)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("remote write failed: %s", resp.Status)
	}
	return nil
}
