package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/hrodmn/eoapi-subdataset-params/internal/subdataset"
)

// datasetParams are the inputs of the external dataset path: a dataset
// url plus the optional subdataset selector.
type datasetParams struct {
	URL      string
	Selector subdataset.Selector
}

func parseDatasetParams(r *http.Request) (datasetParams, error) {
	q := r.URL.Query()

	rawURL := strings.TrimSpace(q.Get("url"))
	if rawURL == "" {
		return datasetParams{}, errors.New("missing required parameter: url")
	}

	sel, err := subdataset.ParseSelector(q)
	if err != nil {
		return datasetParams{}, err
	}
	return datasetParams{URL: rawURL, Selector: sel}, nil
}

// healthTimeoutSeconds parses the healthz timeout parameter, defaulting
// to 1 second and clamping nonsense to the default.
func healthTimeoutSeconds(r *http.Request) int {
	raw := strings.TrimSpace(r.URL.Query().Get("timeout"))
	if raw == "" {
		return 1
	}
	n := 0
	for _, c := range raw {
		if c < '0' || c > '9' {
			return 1
		}
		n = n*10 + int(c-'0')
		if n > 60 {
			return 60
		}
	}
	if n <= 0 {
		return 1
	}
	return n
}
