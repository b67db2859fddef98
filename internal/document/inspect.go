package document

import "context"

// InspectResult はジョブ入力の基本メタデータです。ページ範囲を組み立てる際に使います。
type InspectResult struct {
	JobID string           `json:"jobId"`
	Files []InspectedInput `json:"files"`
}

// InspectedInput は入力1件の情報です。
type InspectedInput struct {
	SourceFileMeta
	Readable bool `json:"readable"`
}

// Inspect はジョブの各入力の形式・サイズ・ページ数を返します。
func (s *Service) Inspect(ctx context.Context, jobID string) (*InspectResult, error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, storeError(err)
	}
	result := &InspectResult{JobID: job.ID, Files: make([]InspectedInput, 0, len(job.InputFiles))}
	for _, path := range job.InputFiles {
		file, unreadable, err := s.inspectInput(ctx, path)
		if err != nil {
			return nil, err
		}
		result.Files = append(result.Files, InspectedInput{
			SourceFileMeta: file.meta(),
			Readable:       unreadable == nil,
		})
	}
	return result, nil
}
