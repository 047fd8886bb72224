package fusionlib

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// Station is a power plant visible to the OpenAPI account.
type Station struct {
	// Name is the label chosen by the owner, it is what users search for.
	Name string
	// Code is the identifier used by the other API calls.
	Code string
	// Capacity is the installed power in kWp, zero if not reported.
	Capacity float64
	// Address is the plant address, it may be empty.
	Address string
	// Linkman is the plant contact person, it may be empty.
	Linkman string
}

// rawStation is a record of getStationList. Only the fields we use are
// decoded, the API returns many more.
type rawStation struct {
	Name     *string `json:"stationName"`
	Code     string  `json:"stationCode"`
	Capacity float64 `json:"capacity"`
	Address  string  `json:"stationAddr"`
	Linkman  string  `json:"stationLinkman"`
}

// ListStations returns the stations of the account, in the order the
// server sends them.
//
// Any error returned here happens with an active session: the caller
// should Logout before giving up.
func (c *Client) ListStations(ctx context.Context, s Session) ([]Station, error) {
	req, err := c.newAuthRequest(ctx, s, stationListPath, struct{}{})
	if err != nil {
		return nil, err
	}

	e, _, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if !*e.Success {
		return nil, e.rejected(ErrDirectoryQueryRejected)
	}

	var raw []rawStation
	if len(e.Data) > 0 {
		if err := json.Unmarshal(e.Data, &raw); err != nil {
			return nil, fmt.Errorf("%w: cannot parse station list: %v", ErrMalformedResponse, err)
		}
	}

	ret := make([]Station, 0, len(raw))
	for i, r := range raw {
		if r.Name == nil {
			return nil, fmt.Errorf("%w: unknown format, record %d has no station name", ErrDirectoryQueryRejected, i)
		}
		ret = append(ret, Station{
			Name:     *r.Name,
			Code:     r.Code,
			Capacity: r.Capacity,
			Address:  r.Address,
			Linkman:  r.Linkman,
		})
	}
	c.logger.Debug("station list", zap.Int("stations", len(ret)))
	return ret, nil
}

// Resolve returns the code of the first station whose name is exactly name.
//
// Names are not unique on the server side, if there are duplicates the
// first one wins.
func Resolve(stations []Station, name string) (string, error) {
	for _, st := range stations {
		if st.Name == name {
			return st.Code, nil
		}
	}
	return "", fmt.Errorf("%w: plant name %s not found in station list", ErrStationNotFound, name)
}
