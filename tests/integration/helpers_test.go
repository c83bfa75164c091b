//go:build integration

package integration

import (
	"net/http"
	"testing"
	"time"

	"github.com/homa-clinic/booking/internal/testutil"
	"github.com/stretchr/testify/require"
)

const defaultPassword = "secret123"

// loginAsAdmin returns a client authenticated as the bootstrap admin.
func loginAsAdmin(t *testing.T) *testutil.Client {
	t.Helper()
	client, _ := newTestClient(t).LoginAs(t, adminEmail, adminPassword)
	return client
}

// createPatient registers a patient and returns its id and an authenticated client.
func createPatient(t *testing.T) (string, *testutil.Client) {
	t.Helper()

	client := newTestClient(t)
	email := testutil.RandomEmail("patient")
	id := client.Register(t, email, defaultPassword, "Pat", "Ient")
	authed, _ := client.LoginAs(t, email, defaultPassword)
	return id, authed
}

// createDoctor creates a doctor through the admin endpoint and returns
// its id and an authenticated client.
func createDoctor(t *testing.T) (string, *testutil.Client) {
	t.Helper()

	email := testutil.RandomEmail("doctor")
	resp, err := loginAsAdmin(t).POST("/api/admin/users", map[string]string{
		"email":      email,
		"password":   defaultPassword,
		"first_name": "Doc",
		"last_name":  "Tor",
		"role":       "doctor",
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var result struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)

	authed, _ := newTestClient(t).LoginAs(t, email, defaultPassword)
	return result.Data.ID, authed
}

// bookAppointment books a visit tomorrow and returns its id.
func bookAppointment(t *testing.T, patient *testutil.Client, doctorID string) string {
	t.Helper()

	resp, err := patient.POST("/api/appointments", map[string]interface{}{
		"doctor_id":    doctorID,
		"scheduled_at": time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339),
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var result struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	testutil.DecodeJSON(t, resp, &result)
	return result.Data.ID
}
