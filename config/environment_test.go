package config

import "testing"

func TestAppEnvironmentAliases(t *testing.T) {
	cases := []struct {
		value string
		want  string
	}{
		{"", environmentDevelopment},
		{"development", environmentDevelopment},
		{"prod", environmentProduction},
		{"Producation", environmentProduction},
		{"STAGGING", environmentStaging},
		{"qa", "qa"},
	}
	for _, tc := range cases {
		t.Setenv(appEnvVar, tc.value)
		if got := AppEnvironment(); got != tc.want {
			t.Errorf("AppEnvironment() with APP_ENV=%q = %q, want %q", tc.value, got, tc.want)
		}
	}
}

func TestIsProductionLike(t *testing.T) {
	if !IsProductionLike(environmentProduction) || !IsProductionLike(environmentStaging) {
		t.Error("production and staging should be production-like")
	}
	if IsProductionLike(environmentDevelopment) {
		t.Error("development should not be production-like")
	}
}
