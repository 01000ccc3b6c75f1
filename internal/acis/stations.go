package acis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"climate-platform/internal/models"
	"climate-platform/pkg/logging"
)

const metaItems = "name,state,sids,ll,valid_daterange"

// MetaQuery selects stations by bounding box or by explicit ids
type MetaQuery struct {
	Element models.Element
	BBox    *models.BoundingBox
	SIDs    []string
}

// DataQuery requests one station's daily tokens for [Start, End]
type DataQuery struct {
	SID     string
	Element models.Element
	Start   time.Time
	End     time.Time
}

type metaParams struct {
	BBox  string `json:"bbox,omitempty"`
	SIDs  string `json:"sids,omitempty"`
	Elems string `json:"elems"`
	Meta  string `json:"meta"`
}

type dataParams struct {
	SID   string `json:"sid"`
	Elems string `json:"elems"`
	SDate string `json:"sdate"`
	EDate string `json:"edate"`
}

type stationMetaJSON struct {
	Name           string     `json:"name"`
	State          string     `json:"state"`
	SIDs           []string   `json:"sids"`
	LL             []float64  `json:"ll"`
	ValidDateRange [][]string `json:"valid_daterange"`
}

type metaResponse struct {
	Meta  []stationMetaJSON `json:"meta"`
	Error string            `json:"error"`
}

type dataResponse struct {
	Data  [][]json.RawMessage `json:"data"`
	Error string              `json:"error"`
}

// StationMetadata lists the stations matching q that have a valid date range for the element
func (c *Client) StationMetadata(ctx context.Context, q MetaQuery) ([]models.StationMetadata, error) {
	params := metaParams{Elems: string(q.Element), Meta: metaItems}
	switch {
	case q.BBox != nil && len(q.SIDs) > 0:
		return nil, &models.ValidationError{Field: "bbox", Message: "bbox and sids are mutually exclusive"}
	case q.BBox != nil:
		params.BBox = q.BBox.String()
	case len(q.SIDs) > 0:
		params.SIDs = strings.Join(q.SIDs, ",")
	default:
		return nil, &models.ValidationError{Field: "bbox", Message: "either bbox or sids is required"}
	}

	var resp metaResponse
	if err := c.post(ctx, endpointStnMeta, params, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		c.metrics.RecordUpstreamError("payload")
		return nil, &UpstreamError{Endpoint: endpointStnMeta, Message: resp.Error}
	}

	stations, skipped := decodeMeta(resp.Meta, q.Element, q.BBox)
	c.logger.Info(ctx, "[ACIS_META] Station metadata retrieved", logging.Fields{
		"element":  q.Element,
		"stations": len(stations),
		"skipped":  skipped,
	})
	return stations, nil
}

// StationData returns the raw daily tokens for one station
func (c *Client) StationData(ctx context.Context, q DataQuery) ([]models.RawObservation, error) {
	if q.SID == "" {
		return nil, &models.ValidationError{Field: "sid", Message: "station id is required"}
	}
	if q.End.Before(q.Start) {
		return nil, &models.ValidationError{Field: "edate", Value: q.End.Format(models.DateLayout), Message: "end date precedes start date"}
	}

	params := dataParams{
		SID:   q.SID,
		Elems: string(q.Element),
		SDate: q.Start.Format(models.DateLayout),
		EDate: q.End.Format(models.DateLayout),
	}

	var resp dataResponse
	if err := c.post(ctx, endpointStnData, params, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		c.metrics.RecordUpstreamError("payload")
		return nil, &UpstreamError{Endpoint: endpointStnData, Message: resp.Error}
	}

	obs, err := decodeRows(resp.Data)
	if err != nil {
		return nil, &UpstreamError{Endpoint: endpointStnData, Message: "malformed data row", Err: err}
	}

	c.logger.Debug(ctx, "[ACIS_DATA] Station data retrieved", logging.Fields{
		"sid":     q.SID,
		"element": q.Element,
		"days":    len(obs),
	})
	return obs, nil
}

// DecodeStationData parses a saved StnData JSON document
func DecodeStationData(r io.Reader) ([]models.RawObservation, error) {
	var resp dataResponse
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode StnData document: %w", err)
	}
	if resp.Error != "" {
		return nil, &UpstreamError{Endpoint: endpointStnData, Message: resp.Error}
	}
	return decodeRows(resp.Data)
}

// decodeMeta drops stations without a valid range and, for bbox queries,
// stations whose reported location falls outside the box.
func decodeMeta(raw []stationMetaJSON, element models.Element, bbox *models.BoundingBox) ([]models.StationMetadata, int) {
	stations := make([]models.StationMetadata, 0, len(raw))
	skipped := 0
	for _, m := range raw {
		st, ok := stationFromMeta(m, element)
		if !ok || (bbox != nil && len(m.LL) == 2 && !bbox.Contains(st.Latitude, st.Longitude)) {
			skipped++
			continue
		}
		stations = append(stations, st)
	}
	return stations, skipped
}

// stationFromMeta keeps the first sid; any sid returns the same data for a valid range.
func stationFromMeta(m stationMetaJSON, element models.Element) (models.StationMetadata, bool) {
	if len(m.SIDs) == 0 || len(m.ValidDateRange) == 0 || len(m.ValidDateRange[0]) < 2 {
		return models.StationMetadata{}, false
	}

	st := models.StationMetadata{
		Element: element,
		Name:    m.Name,
		State:   m.State,
	}

	parts := strings.Fields(m.SIDs[0])
	if len(parts) == 0 {
		return models.StationMetadata{}, false
	}
	st.StationID = parts[0]
	if len(parts) > 1 {
		if code, err := strconv.Atoi(parts[1]); err == nil {
			st.SIDCode = code
			st.SIDType = models.SIDTypes[code]
		}
	}

	if len(m.LL) == 2 {
		st.Longitude = m.LL[0]
		st.Latitude = m.LL[1]
	}

	start, err := time.Parse(models.DateLayout, m.ValidDateRange[0][0])
	if err != nil {
		return models.StationMetadata{}, false
	}
	end, err := time.Parse(models.DateLayout, m.ValidDateRange[0][1])
	if err != nil || end.Before(start) {
		return models.StationMetadata{}, false
	}
	st.ValidStart = start
	st.ValidEnd = end
	return st, true
}

func decodeRows(rows [][]json.RawMessage) ([]models.RawObservation, error) {
	obs := make([]models.RawObservation, 0, len(rows))
	for i, row := range rows {
		if len(row) < 2 {
			return nil, fmt.Errorf("row %d has %d fields, want 2", i, len(row))
		}
		var date string
		if err := json.Unmarshal(row[0], &date); err != nil {
			return nil, fmt.Errorf("row %d: date is not a string", i)
		}
		d, err := time.Parse(models.DateLayout, date)
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid date %q", i, date)
		}
		obs = append(obs, models.RawObservation{Date: d, Token: rawToken(row[1])})
	}
	return obs, nil
}

// rawToken accepts both quoted tokens and bare JSON numbers
func rawToken(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
