// Package airnow reads the current air quality index from the AirNow API
// and caches it in the telemetry log under the "aqi" device.
package airnow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

const observationPath = "/aq/observation/zipCode/current/"

// searchDistance is the radius in miles AirNow searches around the zipcode
const searchDistance = "15"

// ErrRateLimited is returned when AirNow answers with an empty observation list
var ErrRateLimited = errors.New("airnow returned no observations; likely rate-limited")

// Category is one band of the AQI scale (https://docs.airnowapi.org/aq101)
type Category struct {
	Min   int    `json:"-"`
	Max   int    `json:"-"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

var categories = []Category{
	{0, 50, "Good", "#00e400"},
	{51, 100, "Moderate", "#ffff00"},
	{101, 150, "Unhealthy for Sensitive Groups", "#ff7e00"},
	{151, 200, "Unhealthy", "#ff0000"},
	{201, 300, "Very Unhealthy", "#8f3f97"},
	{301, 500, "Hazardous", "#7e0023"},
}

// CategoryFor returns the band an AQI value falls in.
func CategoryFor(aqi int) (Category, error) {
	for _, c := range categories {
		if c.Min <= aqi && aqi <= c.Max {
			return c, nil
		}
	}
	return Category{}, fmt.Errorf("invalid aqi=%d", aqi)
}

type observation struct {
	ParameterName string `json:"ParameterName"`
	AQI           int    `json:"AQI"`
	ReportingArea string `json:"ReportingArea"`
}

// Client queries current observations for one zipcode
type Client struct {
	http    *resty.Client
	zipcode string
	apiKey  string
	log     logrus.FieldLogger
}

// NewClient creates a client against baseURL (https://www.airnowapi.org in production).
func NewClient(baseURL, zipcode, apiKey string, timeout time.Duration, logger logrus.FieldLogger) *Client {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Accept", "application/json")

	return &Client{
		http:    rc,
		zipcode: zipcode,
		apiKey:  apiKey,
		log:     logger.WithField("component", "airnow"),
	}
}

// Current returns the first reported AQI for the zipcode.
func (c *Client) Current(ctx context.Context) (int, error) {
	var obs []observation
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"format":   "application/json",
			"zipCode":  c.zipcode,
			"distance": searchDistance,
			"API_KEY":  c.apiKey,
		}).
		SetResult(&obs).
		Get(observationPath)
	if err != nil {
		return 0, fmt.Errorf("airnow request: %w", err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("airnow HTTP status %d", resp.StatusCode())
	}
	if len(obs) == 0 {
		return 0, ErrRateLimited
	}

	c.log.WithFields(logrus.Fields{
		"aqi":       obs[0].AQI,
		"parameter": obs[0].ParameterName,
		"area":      obs[0].ReportingArea,
	}).Debug("AirNow observation")
	return obs[0].AQI, nil
}
