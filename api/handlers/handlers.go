package handlers

import (
	"github.com/feichai0017/timechange/internal/service/project"
	"github.com/feichai0017/timechange/pkg/logger"
)

type Handlers struct {
	Project *ProjectHandler
}

func NewHandlers(projectService project.ProjectService, logger logger.Logger) *Handlers {
	return &Handlers{
		Project: NewProjectHandler(projectService, logger),
	}
}
