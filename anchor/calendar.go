package anchor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/RemiBp/ProofOrigin/logging"
)

// CalendarChainName marks receipt rows carrying a timestamp calendar
// attestation rather than a chain transaction.
const CalendarChainName = "calendar"

// CalendarReceipt is one timestamp calendar's attestation over a merkle root.
type CalendarReceipt struct {
	Endpoint  string `json:"endpoint"`
	Token     string `json:"token"`
	Timestamp int64  `json:"timestamp"`
}

type calendarStampRequest struct {
	Digest string `json:"digest"`
}

type calendarStampResponse struct {
	Token string `json:"token"`
}

// CalendarClient submits roots to independent timestamp calendars. Calendar
// attestations enrich an anchor receipt; they are never required for the
// batch to anchor, so individual calendar failures only log.
type CalendarClient struct {
	endpoints []string
	hc        *http.Client
}

func NewCalendarClient(endpoints []string) *CalendarClient {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   3 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConnsPerHost:   5,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
	}
	return &CalendarClient{
		endpoints: endpoints,
		hc: &http.Client{
			Timeout:   15 * time.Second,
			Transport: transport,
		},
	}
}

// Stamp fans the root out to every configured calendar and returns whatever
// attestations came back.
func (c *CalendarClient) Stamp(ctx context.Context, merkleRoot string) []*CalendarReceipt {
	receipts := make([]*CalendarReceipt, 0, len(c.endpoints))
	for _, endpoint := range c.endpoints {
		receipt, err := c.stampOne(ctx, endpoint, merkleRoot)
		if err != nil {
			logging.Logger.Warningf("calendar %s rejected root %s, err=%s", endpoint, merkleRoot, err.Error())
			continue
		}
		receipts = append(receipts, receipt)
	}
	return receipts
}

func (c *CalendarClient) stampOne(ctx context.Context, endpoint, merkleRoot string) (*CalendarReceipt, error) {
	body, err := json.Marshal(calendarStampRequest{Digest: merkleRoot})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("calendar stamp failed, status code %d", resp.StatusCode)
	}
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var out calendarStampResponse
	if err = json.Unmarshal(payload, &out); err != nil {
		return nil, err
	}
	return &CalendarReceipt{
		Endpoint:  endpoint,
		Token:     out.Token,
		Timestamp: time.Now().Unix(),
	}, nil
}
