package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mapleportal/internal/config"
	"mapleportal/internal/pkg/jwtutil"
)

var (
	tokenSubject string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an admin bearer token for the /admin/rag routes",
	Long: `Issue an admin bearer token signed with ADMIN_JWT_SECRET.

Examples:
  portalctl token --subject ops --ttl 2h
  curl -H "Authorization: Bearer $(portalctl token)" localhost:8080/admin/rag/stats`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "portalctl", "token subject")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (default ADMIN_JWT_EXPIRE_MINUTE)")
}

func runToken(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ttl := tokenTTL
	if ttl <= 0 {
		ttl = time.Duration(cfg.Admin.JWTExpireMinute) * time.Minute
	}
	token, err := jwtutil.GenerateToken(cfg.Admin.JWTSecret, ttl, tokenSubject, jwtutil.RoleAdmin)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
