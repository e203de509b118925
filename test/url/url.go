package url

import (
	"fmt"
	"go-poll/internal/model"
)

func CreateJob(server string) string {
	return fmt.Sprintf("%s/api/v1/job/", server)
}

func GetJobById(server string, id model.JobId) string {
	return fmt.Sprintf("%s/api/v1/job/%d/", server, id)
}

func GetJobByName(server string, name string) string {
	return fmt.Sprintf("%s/api/v1/job/%s/", server, name)
}

func UpdateJob(server string, id model.JobId) string {
	return GetJobById(server, id)
}

func DeleteJob(server string, id model.JobId) string {
	return GetJobById(server, id)
}

func RunJob(server string, id model.JobId) string {
	return fmt.Sprintf("%s/api/v1/job/%d/run/", server, id)
}

func Config(server string) string {
	return fmt.Sprintf("%s/api/v1/config/", server)
}

func Health(server string) string {
	return fmt.Sprintf("%s/health", server)
}

func ServicesHealth(server string) string {
	return fmt.Sprintf("%s/api/v1/health/services/", server)
}
