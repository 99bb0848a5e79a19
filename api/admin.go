package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	backups "github.com/openshelf/openshelf/internal/pg-backups"
)

// Backup endpoints are operator-only; they run pg_dump in-process and block
// until the dump finishes.
func (a Api) BackupDB(c *gin.Context) {
	if err := backups.BackupDB(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "backup written to disk"})
}

func (a Api) BackupDBS3(c *gin.Context) {
	if err := backups.ZipUploadToS3(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "backup uploaded to S3"})
}
