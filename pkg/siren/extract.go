// Package siren maintains the SIREN registry: extraction from the
// master-data store and loading of the resulting CSV for the filtering
// stage.
package siren

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/afterdata/bodacc/pkg/config"
)

// establishmentQuery selects every establishment with a SIREN, no error
// status, and at least one active coverage.
const establishmentQuery = `
SELECT
    e.id                       AS emetteur_id,
    e.code_siren               AS code_siren,
    e.code_siret               AS code_siret,
    e.matricule_picris_ccpma   AS matricule_picris_ccpma,
    e.matricule_picris_cpcea   AS matricule_picris_cpcea,
    e.matricule_picris_agri    AS matricule_picris_agri
FROM master_data.gd_etablissement e
JOIN master_data.usr_etablissement_couverture couv
  ON couv.f_etablissement = e.id
 AND (couv.fcli_agri > 0 OR couv.fcli_cpcea > 0 OR couv.fcli_ccpma > 0)
WHERE e.code_siren IS NOT NULL
  AND e.b_error_status IS NULL
`

var csvHeader = []string{
	"EMETTEUR_ID",
	"CODE_SIREN",
	"CODE_SIRET",
	"MATRICULE_PICRIS_CCPMA",
	"MATRICULE_PICRIS_CPCEA",
	"MATRICULE_PICRIS_AGRI",
}

// Open connects to the master-data PostgreSQL instance.
func Open(cfg config.MasterData) (*sql.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.DBName, cfg.User, cfg.Password, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open master-data connection")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "reach master-data store")
	}

	log.WithFields(log.Fields{"host": cfg.Host, "dbname": cfg.DBName}).Info("connected to master-data store")
	return db, nil
}

// Export runs the establishment query and writes the registry CSV. It
// returns the number of exported rows.
func Export(ctx context.Context, db *sql.DB, path string) (int, error) {
	rows, err := db.QueryContext(ctx, establishmentQuery)
	if err != nil {
		return 0, errors.Wrap(err, "query establishments")
	}
	defer rows.Close()

	f, err := os.Create(path)
	if err != nil {
		return 0, errors.Wrap(err, "create registry file")
	}
	defer f.Close()

	w := newRegistryWriter(f)
	if err := w.WriteRow(csvHeader); err != nil {
		return 0, err
	}

	count := 0
	for rows.Next() {
		var id, sirenCode, siret, ccpma, cpcea, agri sql.NullString
		if err := rows.Scan(&id, &sirenCode, &siret, &ccpma, &cpcea, &agri); err != nil {
			return count, errors.Wrap(err, "scan establishment row")
		}
		record := []string{
			clean(id), clean(sirenCode), clean(siret),
			clean(ccpma), clean(cpcea), clean(agri),
		}
		if err := w.WriteRow(record); err != nil {
			return count, err
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return count, errors.Wrap(err, "read establishments")
	}
	if err := w.Flush(); err != nil {
		return count, err
	}

	log.WithFields(log.Fields{"rows": count, "file": path}).Info("registry export complete")
	return count, nil
}

func clean(v sql.NullString) string {
	if !v.Valid {
		return ""
	}
	s := strings.TrimSpace(v.String)
	if s == "None" || s == "nan" {
		return ""
	}
	return s
}
