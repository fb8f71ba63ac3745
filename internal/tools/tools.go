package tools

import (
	"net"
	"net/http"
	"time"
)

const (
	layoutInput = "2006-01-02T15:04"
	layoutDB    = "2006-01-02 15:04:05"
)

var privateBlocks = func() []*net.IPNet {
	var blocks []*net.IPNet
	for _, block := range []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "127.0.0.0/8", "::1/128", "fc00::/7"} {
		_, cidr, _ := net.ParseCIDR(block)
		blocks = append(blocks, cidr)
	}
	return blocks
}()

// Prevent out-of-network requests to dashboard endpoints
func CheckInNetwork(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			http.Error(w, "Invalid request", http.StatusBadRequest)
			return
		}
		parsedIP := net.ParseIP(ip)
		if parsedIP == nil {
			http.Error(w, "Invalid IP address", http.StatusBadRequest)
			return
		}
		if !IsLocalAddress(parsedIP) {
			http.Error(w, "Access denied", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func IsLocalAddress(ip net.IP) bool {
	for _, cidr := range privateBlocks {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// Get the start and end dates from the request, format them for comparison with the DB.
// Form values are read in loc; the default range is the last 8 hours.
func ParseStartAndEndDate(r *http.Request, loc *time.Location) (string, string) {
	r.ParseForm()
	if loc == nil {
		loc = time.Local
	}
	now := time.Now().UTC()
	startDate := now.Add(-8 * time.Hour).Format(layoutDB)
	endDate := now.Format(layoutDB)

	if s := r.FormValue("start"); s != "" {
		if t, err := time.ParseInLocation(layoutInput, s, loc); err != nil {
			Logger.Warnf("Error parsing start date: %v", err)
		} else {
			startDate = t.UTC().Format(layoutDB)
		}
	}
	if e := r.FormValue("end"); e != "" {
		if t, err := time.ParseInLocation(layoutInput, e, loc); err != nil {
			Logger.Warnf("Error parsing end date: %v", err)
		} else {
			endDate = t.UTC().Format(layoutDB)
		}
	}
	return startDate, endDate
}

func StartAndEndDateToTime(startDate string, endDate string) (time.Time, time.Time, error) {
	start, err := time.Parse(layoutDB, startDate)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err := time.Parse(layoutDB, endDate)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}
